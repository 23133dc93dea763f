package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"telecare-server/internal/events"
	"telecare-server/internal/models"
	"telecare-server/internal/repository"
)

const defaultCancellationReason = "No reason provided"

type AppointmentService struct {
	appointments  repository.AppointmentRepository
	consultations repository.ConsultationRepository
	users         repository.UserRepository
	deps          Deps
}

func NewAppointmentService(repos repository.Repositories, deps Deps) *AppointmentService {
	return &AppointmentService{
		appointments:  repos.Appointments,
		consultations: repos.Consultations,
		users:         repos.Users,
		deps:          deps.withDefaults(),
	}
}

// CreateAppointmentInput describes a booking. ProviderID must already be
// resolved; the service never picks a provider on its own.
type CreateAppointmentInput struct {
	PatientID  string
	ProviderID string
	Type       models.AppointmentType
	StartTime  time.Time
	EndTime    time.Time
	Reason     string
	Notes      string
	IsVirtual  bool
}

// AppointmentPatch carries the fields of an update; nil means unchanged.
type AppointmentPatch struct {
	Type        *models.AppointmentType
	Status      *models.AppointmentStatus
	StartTime   *time.Time
	EndTime     *time.Time
	Reason      *string
	Notes       *string
	IsVirtual   *bool
	MeetingLink *string
	AdminID     *string
}

// Create books a scheduled appointment. The overlap check for both the
// provider and the patient runs atomically with the insert.
func (s *AppointmentService) Create(ctx context.Context, caller models.Caller, in CreateAppointmentInput) (appt *models.Appointment, err error) {
	ctx, span := startSpan(ctx, "AppointmentService.Create",
		attribute.String("provider.id", in.ProviderID), attribute.String("patient.id", in.PatientID))
	defer func() { endSpan(span, err) }()

	if in.PatientID == "" {
		in.PatientID = caller.ID
	}
	if !canBookFor(caller, in.PatientID) {
		return nil, models.ErrForbidden
	}

	var fields []string
	if !in.Type.IsValid() {
		fields = append(fields, fmt.Sprintf("appointmentType %q is not supported", in.Type))
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		fields = append(fields, "reason is required")
	}
	if in.ProviderID == "" {
		fields = append(fields, "providerId is required")
	}
	fields = append(fields, s.windowProblems(in.StartTime, in.EndTime)...)
	if len(fields) > 0 {
		return nil, invalid(fields...)
	}

	if err := s.checkProvider(ctx, in.ProviderID); err != nil {
		return nil, err
	}
	if in.ProviderID == in.PatientID {
		return nil, invalid("a provider cannot book an appointment with themselves")
	}
	if _, err := s.users.GetByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, invalid("patientId does not identify a user")
		}
		return nil, fmt.Errorf("loading patient: %w", err)
	}

	appt = &models.Appointment{
		PatientID:       in.PatientID,
		AdminID:         in.ProviderID,
		AppointmentType: in.Type,
		Status:          models.StatusScheduled,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		Reason:          in.Reason,
		Notes:           in.Notes,
		IsVirtual:       in.IsVirtual || in.Type == models.TypeVirtualConsultation,
	}

	if err := s.appointments.CreateExclusive(ctx, appt); err != nil {
		if errors.Is(err, models.ErrAppointmentConflict) {
			s.deps.Metrics.ObserveBooking("conflict")
			s.deps.Log.Info("booking rejected by overlap guard",
				zap.String("provider_id", in.ProviderID),
				zap.String("patient_id", in.PatientID),
				zap.Error(err))
			return nil, err
		}
		s.deps.Metrics.ObserveBooking("error")
		s.deps.Log.Error("failed to create appointment", zap.Error(err))
		return nil, fmt.Errorf("creating appointment: %w", err)
	}
	s.deps.Metrics.ObserveBooking("booked")

	s.deps.publish(ctx, events.AppointmentBooked, appt.ID, map[string]string{
		"patientId":  appt.PatientID,
		"providerId": appt.AdminID,
		"startTime":  appt.StartTime.UTC().Format(time.RFC3339),
		"endTime":    appt.EndTime.UTC().Format(time.RFC3339),
	})
	return appt, nil
}

func (s *AppointmentService) windowProblems(start, end time.Time) []string {
	var fields []string
	if start.IsZero() {
		fields = append(fields, "startTime is required")
	} else if !start.After(s.deps.Now()) {
		fields = append(fields, "startTime must be in the future")
	}
	if end.IsZero() {
		fields = append(fields, "endTime is required")
	} else if !end.After(start) {
		fields = append(fields, "endTime must be after startTime")
	}
	return fields
}

func (s *AppointmentService) checkProvider(ctx context.Context, providerID string) error {
	p, err := s.users.GetByID(ctx, providerID)
	if errors.Is(err, models.ErrUserNotFound) {
		return invalid("providerId does not identify a user")
	}
	if err != nil {
		return fmt.Errorf("loading provider: %w", err)
	}
	if !p.IsActive || !p.Role.CanProvide() {
		return invalid("providerId does not identify an active provider")
	}
	return nil
}

// Get returns one appointment the caller may see.
func (s *AppointmentService) Get(ctx context.Context, caller models.Caller, id string) (*models.Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(caller, a) {
		return nil, models.ErrForbidden
	}
	return a, nil
}

// List returns a page of appointments. Patients only ever see their own.
func (s *AppointmentService) List(ctx context.Context, caller models.Caller, f models.AppointmentFilter) (*models.AppointmentPage, error) {
	if !caller.Role.IsPrivileged() {
		f.PatientID = caller.ID
	}
	if f.Status != "" && !f.Status.IsValid() {
		return nil, invalid(fmt.Sprintf("status %q is not supported", f.Status))
	}
	page, err := s.appointments.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	return page, nil
}

// Update applies patch and re-validates the result. The overlap guard re-runs
// atomically with the save whenever the window or provider moves, or a
// cancelled appointment is revived.
func (s *AppointmentService) Update(ctx context.Context, caller models.Caller, id string, patch AppointmentPatch) (appt *models.Appointment, err error) {
	ctx, span := startSpan(ctx, "AppointmentService.Update", attribute.String("appointment.id", id))
	defer func() { endSpan(span, err) }()

	appt, err = s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(caller, appt) {
		return nil, models.ErrForbidden
	}
	if patch.AdminID != nil && *patch.AdminID != appt.AdminID && !canReassignProvider(caller) {
		return nil, models.ErrForbidden
	}

	before := *appt
	var fields []string

	if patch.Type != nil {
		if !patch.Type.IsValid() {
			fields = append(fields, fmt.Sprintf("appointmentType %q is not supported", *patch.Type))
		}
		appt.AppointmentType = *patch.Type
		if appt.AppointmentType == models.TypeVirtualConsultation {
			appt.IsVirtual = true
		}
	}
	if patch.StartTime != nil {
		appt.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		appt.EndTime = *patch.EndTime
	}
	if patch.Reason != nil {
		appt.Reason = strings.TrimSpace(*patch.Reason)
		if appt.Reason == "" {
			fields = append(fields, "reason is required")
		}
	}
	if patch.Notes != nil {
		appt.Notes = *patch.Notes
	}
	if patch.IsVirtual != nil {
		appt.IsVirtual = *patch.IsVirtual || appt.AppointmentType == models.TypeVirtualConsultation
	}
	if patch.MeetingLink != nil {
		appt.MeetingLink = *patch.MeetingLink
	}
	if patch.AdminID != nil {
		appt.AdminID = *patch.AdminID
	}
	if patch.Status != nil {
		if !patch.Status.IsValid() {
			fields = append(fields, fmt.Sprintf("status %q is not supported", *patch.Status))
		}
		s.applyStatus(appt, caller, *patch.Status, "")
	}

	windowMoved := !appt.StartTime.Equal(before.StartTime) || !appt.EndTime.Equal(before.EndTime)
	providerMoved := appt.AdminID != before.AdminID
	revived := !before.OccupiesTime() && appt.OccupiesTime()

	if windowMoved || revived {
		fields = append(fields, s.windowProblems(appt.StartTime, appt.EndTime)...)
	}
	if len(fields) > 0 {
		return nil, invalid(fields...)
	}
	if providerMoved {
		if err := s.checkProvider(ctx, appt.AdminID); err != nil {
			return nil, err
		}
		if appt.AdminID == appt.PatientID {
			return nil, invalid("a provider cannot be assigned to their own appointment")
		}
	}

	guard := windowMoved || providerMoved || revived
	if err := s.appointments.Save(ctx, appt, guard); err != nil {
		if errors.Is(err, models.ErrAppointmentConflict) {
			return nil, err
		}
		s.deps.Log.Error("failed to update appointment", zap.String("appointment_id", id), zap.Error(err))
		return nil, fmt.Errorf("updating appointment: %w", err)
	}

	if appt.Status == models.StatusCancelled && before.Status != models.StatusCancelled {
		s.cascadeCancel(ctx, appt)
		s.deps.publish(ctx, events.AppointmentCancelled, appt.ID, map[string]string{"reason": appt.CancellationReason})
	} else {
		s.deps.publish(ctx, events.AppointmentUpdated, appt.ID, map[string]string{"status": string(appt.Status)})
	}
	return appt, nil
}

// applyStatus moves appt to status, stamping or clearing cancellation fields.
func (s *AppointmentService) applyStatus(appt *models.Appointment, caller models.Caller, status models.AppointmentStatus, reason string) {
	if status == models.StatusCancelled && appt.Status != models.StatusCancelled {
		now := s.deps.Now()
		appt.CancelledAt = &now
		appt.CancelledBy = caller.ID
		if reason = strings.TrimSpace(reason); reason == "" {
			reason = defaultCancellationReason
		}
		appt.CancellationReason = reason
	}
	if status != models.StatusCancelled {
		appt.CancelledAt = nil
		appt.CancelledBy = ""
		appt.CancellationReason = ""
	}
	appt.Status = status
}

// Cancel frees the appointment's window. Terminal appointments stay as they are.
func (s *AppointmentService) Cancel(ctx context.Context, caller models.Caller, id, reason string) (appt *models.Appointment, err error) {
	ctx, span := startSpan(ctx, "AppointmentService.Cancel", attribute.String("appointment.id", id))
	defer func() { endSpan(span, err) }()

	appt, err = s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(caller, appt) {
		return nil, models.ErrForbidden
	}
	if appt.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", models.ErrInvalidTransition, appt.Status)
	}

	if reason = strings.TrimSpace(reason); reason == "" {
		reason = defaultCancellationReason
	}
	appt, err = s.appointments.Cancel(ctx, id, repository.Cancellation{At: s.deps.Now(), By: caller.ID, Reason: reason})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment can no longer be cancelled", err)
		}
		s.deps.Log.Error("failed to cancel appointment", zap.String("appointment_id", id), zap.Error(err))
		return nil, fmt.Errorf("cancelling appointment: %w", err)
	}

	s.cascadeCancel(ctx, appt)
	s.deps.publish(ctx, events.AppointmentCancelled, appt.ID, map[string]string{
		"reason":      appt.CancellationReason,
		"cancelledBy": appt.CancelledBy,
	})
	return appt, nil
}

// cascadeCancel cancels a consultation that has not started yet. Sessions
// already running are left for the practitioner to end.
func (s *AppointmentService) cascadeCancel(ctx context.Context, appt *models.Appointment) {
	cons, err := s.consultations.GetByAppointment(ctx, appt.ID)
	if err != nil {
		if !errors.Is(err, models.ErrConsultationNotFound) {
			s.deps.Log.Warn("loading consultation for cancelled appointment", zap.String("appointment_id", appt.ID), zap.Error(err))
		}
		return
	}
	if cons.Status != models.ConsultationScheduled {
		return
	}
	err = s.consultations.Transition(ctx, cons.ID, repository.Transition{
		From:   models.ConsultationScheduled,
		To:     models.ConsultationCancelled,
		At:     s.deps.Now(),
		Reason: appt.CancellationReason,
	})
	if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
		s.deps.Log.Warn("cancelling consultation with its appointment", zap.String("consultation_id", cons.ID), zap.Error(err))
		return
	}
	if err == nil {
		s.deps.Metrics.ObserveTransition(string(models.ConsultationCancelled))
		s.deps.publish(ctx, events.ConsultationCancelled, cons.ID, map[string]string{"appointmentId": appt.ID})
	}
}
