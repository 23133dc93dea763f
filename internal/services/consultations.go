package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"telecare-server/internal/events"
	"telecare-server/internal/models"
	"telecare-server/internal/repository"
)

// Notes types accepted by AddNotes.
const (
	NotesGeneral      = "general"
	NotesPatient      = "patient"
	NotesPractitioner = "practitioner"
)

// ConsultationService drives the virtual-session state machine:
//
//	scheduled → active → completed
//	scheduled → cancelled
//
// Transitions are compare-and-set on the stored status, so two concurrent
// starts (or a start racing a cancel) cannot both succeed.
type ConsultationService struct {
	consultations repository.ConsultationRepository
	appointments  repository.AppointmentRepository
	deps          Deps
}

func NewConsultationService(repos repository.Repositories, deps Deps) *ConsultationService {
	return &ConsultationService{
		consultations: repos.Consultations,
		appointments:  repos.Appointments,
		deps:          deps.withDefaults(),
	}
}

// Create returns the consultation of appointmentID, creating it on first
// call. created reports whether this call inserted it.
func (s *ConsultationService) Create(ctx context.Context, caller models.Caller, appointmentID string) (cons *models.Consultation, created bool, err error) {
	ctx, span := startSpan(ctx, "ConsultationService.Create", attribute.String("appointment.id", appointmentID))
	defer func() { endSpan(span, err) }()

	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	if !canCreateConsultation(caller, appt) {
		return nil, false, models.ErrForbidden
	}
	if appt.Status != models.StatusScheduled && appt.Status != models.StatusInProgress {
		return nil, false, fmt.Errorf("%w: appointment is %s", models.ErrInvalidTransition, appt.Status)
	}

	now := s.deps.Now()
	id := uuid.New().String()
	cons = &models.Consultation{
		BaseModel:      models.BaseModel{ID: id, CreatedAt: now, UpdatedAt: now},
		RoomID:         models.NewRoomID(id, now),
		AppointmentID:  appt.ID,
		PatientID:      appt.PatientID,
		PractitionerID: appt.AdminID,
		Status:         models.ConsultationScheduled,
		StartTime:      appt.StartTime,
		EndTime:        appt.EndTime,
	}

	cons, created, err = s.consultations.CreateOrGet(ctx, cons)
	if err != nil {
		s.deps.Log.Error("failed to create consultation", zap.String("appointment_id", appointmentID), zap.Error(err))
		return nil, false, fmt.Errorf("creating consultation: %w", err)
	}
	return cons, created, nil
}

func (s *ConsultationService) Get(ctx context.Context, caller models.Caller, id string) (*models.Consultation, error) {
	cons, err := s.consultations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canParticipate(caller, cons) {
		return nil, models.ErrForbidden
	}
	return cons, nil
}

func (s *ConsultationService) GetByAppointment(ctx context.Context, caller models.Caller, appointmentID string) (*models.Consultation, error) {
	cons, err := s.consultations.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canParticipate(caller, cons) {
		return nil, models.ErrForbidden
	}
	return cons, nil
}

// Start moves a scheduled consultation to active and its appointment to in-progress.
func (s *ConsultationService) Start(ctx context.Context, caller models.Caller, id string) (cons *models.Consultation, err error) {
	ctx, span := startSpan(ctx, "ConsultationService.Start", attribute.String("consultation.id", id))
	defer func() { endSpan(span, err) }()

	cons, err = s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, cons, repository.Transition{
		From: models.ConsultationScheduled,
		To:   models.ConsultationActive,
		At:   s.deps.Now(),
	}); err != nil {
		return nil, err
	}

	s.markAppointment(ctx, cons.AppointmentID, models.StatusInProgress)
	s.deps.publish(ctx, events.ConsultationStarted, cons.ID, map[string]string{
		"appointmentId": cons.AppointmentID,
		"startedBy":     caller.ID,
	})
	return s.consultations.GetByID(ctx, id)
}

// End completes an active consultation. A consultation that never started
// cannot be ended; it has no actual start to measure a duration from.
func (s *ConsultationService) End(ctx context.Context, caller models.Caller, id, notes string) (cons *models.Consultation, err error) {
	ctx, span := startSpan(ctx, "ConsultationService.End", attribute.String("consultation.id", id))
	defer func() { endSpan(span, err) }()

	cons, err = s.consultations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canConclude(caller, cons) {
		return nil, models.ErrForbidden
	}
	if cons.Status != models.ConsultationActive || cons.ActualStartTime == nil {
		return nil, fmt.Errorf("%w: consultation is %s", models.ErrInvalidTransition, cons.Status)
	}

	now := s.deps.Now()
	duration := models.ElapsedMinutes(*cons.ActualStartTime, now)
	if err := s.transition(ctx, cons, repository.Transition{
		From:              models.ConsultationActive,
		To:                models.ConsultationCompleted,
		At:                now,
		Duration:          duration,
		PractitionerNotes: strings.TrimSpace(notes),
	}); err != nil {
		return nil, err
	}

	s.markAppointment(ctx, cons.AppointmentID, models.StatusCompleted)
	s.deps.publish(ctx, events.ConsultationCompleted, cons.ID, map[string]string{
		"appointmentId": cons.AppointmentID,
		"duration":      fmt.Sprintf("%d", duration),
	})
	return s.consultations.GetByID(ctx, id)
}

// Cancel abandons a consultation that has not started.
func (s *ConsultationService) Cancel(ctx context.Context, caller models.Caller, id, reason string) (cons *models.Consultation, err error) {
	ctx, span := startSpan(ctx, "ConsultationService.Cancel", attribute.String("consultation.id", id))
	defer func() { endSpan(span, err) }()

	cons, err = s.consultations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canConclude(caller, cons) {
		return nil, models.ErrForbidden
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = defaultCancellationReason
	}
	if err := s.transition(ctx, cons, repository.Transition{
		From:   models.ConsultationScheduled,
		To:     models.ConsultationCancelled,
		At:     s.deps.Now(),
		Reason: reason,
	}); err != nil {
		return nil, err
	}

	s.deps.publish(ctx, events.ConsultationCancelled, cons.ID, map[string]string{"appointmentId": cons.AppointmentID})
	return s.consultations.GetByID(ctx, id)
}

func (s *ConsultationService) transition(ctx context.Context, cons *models.Consultation, t repository.Transition) error {
	if cons.Status != t.From {
		return fmt.Errorf("%w: consultation is %s", models.ErrInvalidTransition, cons.Status)
	}
	if err := s.consultations.Transition(ctx, cons.ID, t); err != nil {
		if Classify(err) == KindInternal {
			s.deps.Log.Error("consultation transition failed",
				zap.String("consultation_id", cons.ID),
				zap.String("to", string(t.To)),
				zap.Error(err))
			return fmt.Errorf("updating consultation: %w", err)
		}
		return err
	}
	s.deps.Metrics.ObserveTransition(string(t.To))
	return nil
}

// markAppointment mirrors a consultation transition onto its appointment.
// The consultation is the source of truth, so a failure here is only logged.
func (s *ConsultationService) markAppointment(ctx context.Context, appointmentID string, status models.AppointmentStatus) {
	if err := s.appointments.UpdateStatus(ctx, appointmentID, status); err != nil {
		s.deps.Log.Warn("updating appointment status from consultation",
			zap.String("appointment_id", appointmentID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// Join records the caller as connected. Joining again after leaving clears
// the previous leave stamp; the consultation status is untouched.
func (s *ConsultationService) Join(ctx context.Context, caller models.Caller, id string) (*models.Consultation, error) {
	cons, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if cons.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: consultation is %s", models.ErrInvalidTransition, cons.Status)
	}

	now := s.deps.Now()
	p := models.ConsultationParticipant{ConsultationID: cons.ID, UserID: caller.ID}
	if existing, ok := cons.Participant(caller.ID); ok {
		p = *existing
	}
	p.Role = participantRole(caller, cons)
	p.JoinedAt = &now
	p.LeftAt = nil
	p.ConnectionStatus = models.Connected

	if err := s.consultations.UpsertParticipant(ctx, &p); err != nil {
		return nil, fmt.Errorf("recording participant: %w", err)
	}
	return s.consultations.GetByID(ctx, id)
}

// Leave stamps the caller's departure.
func (s *ConsultationService) Leave(ctx context.Context, caller models.Caller, id string) (*models.Consultation, error) {
	cons, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if cons.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: consultation is %s", models.ErrInvalidTransition, cons.Status)
	}
	existing, ok := cons.Participant(caller.ID)
	if !ok || existing.JoinedAt == nil {
		return nil, invalid("caller has not joined this consultation")
	}

	now := s.deps.Now()
	p := *existing
	p.LeftAt = &now
	p.ConnectionStatus = models.Disconnected

	if err := s.consultations.UpsertParticipant(ctx, &p); err != nil {
		return nil, fmt.Errorf("recording participant: %w", err)
	}
	return s.consultations.GetByID(ctx, id)
}

// AddNotes stores free text in the field chosen by notesType, or by the
// caller's role when notesType is empty.
func (s *ConsultationService) AddNotes(ctx context.Context, caller models.Caller, id, notes, notesType string) (*models.Consultation, error) {
	cons, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	field, err := notesField(caller, cons, notesType)
	if err != nil {
		return nil, err
	}
	if cons.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: consultation is %s", models.ErrInvalidTransition, cons.Status)
	}
	if err := s.consultations.SetNotes(ctx, id, field, notes); err != nil {
		if Classify(err) == KindInternal {
			return nil, fmt.Errorf("saving notes: %w", err)
		}
		return nil, err
	}
	return s.consultations.GetByID(ctx, id)
}

func notesField(caller models.Caller, cons *models.Consultation, notesType string) (repository.NotesField, error) {
	role := participantRole(caller, cons)
	isAdmin := caller.Role == models.RoleAdmin

	switch strings.ToLower(strings.TrimSpace(notesType)) {
	case NotesGeneral:
		return repository.SharedNotes, nil
	case NotesPatient:
		if role != models.ParticipantPatient && !isAdmin {
			return "", models.ErrForbidden
		}
		return repository.PatientNotes, nil
	case NotesPractitioner:
		if role != models.ParticipantPractitioner && !isAdmin {
			return "", models.ErrForbidden
		}
		return repository.PractitionerNotes, nil
	case "":
		switch role {
		case models.ParticipantPatient:
			return repository.PatientNotes, nil
		case models.ParticipantPractitioner:
			return repository.PractitionerNotes, nil
		default:
			return repository.SharedNotes, nil
		}
	}
	return "", invalid(fmt.Sprintf("notes type %q must be one of general, patient, practitioner", notesType))
}

// FeedbackInput is one participant's rating of a consultation.
type FeedbackInput struct {
	Rating          int
	Feedback        string
	TechnicalRating *int
}

// SubmitFeedback records the caller's rating once. Only the patient and the
// practitioner may rate, and only after the session has started.
func (s *ConsultationService) SubmitFeedback(ctx context.Context, caller models.Caller, id string, in FeedbackInput) (*models.Consultation, error) {
	cons, err := s.consultations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	side, ok := canRate(caller, cons)
	if !ok {
		return nil, models.ErrForbidden
	}

	var fields []string
	if in.Rating < 1 || in.Rating > 5 {
		fields = append(fields, "rating must be between 1 and 5")
	}
	if in.TechnicalRating != nil && (*in.TechnicalRating < 1 || *in.TechnicalRating > 5) {
		fields = append(fields, "technicalRating must be between 1 and 5")
	}
	if len(fields) > 0 {
		return nil, invalid(fields...)
	}

	err = s.consultations.SubmitFeedback(ctx, id, repository.FeedbackSubmission{
		Side:            side,
		Rating:          in.Rating,
		Feedback:        strings.TrimSpace(in.Feedback),
		TechnicalRating: in.TechnicalRating,
	})
	if err != nil {
		if Classify(err) == KindInternal {
			return nil, fmt.Errorf("saving feedback: %w", err)
		}
		return nil, err
	}
	return s.consultations.GetByID(ctx, id)
}
