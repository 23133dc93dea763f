// Package repository persists the platform's records. Every contract has a
// gorm implementation (MySQL or PostgreSQL) and an in-memory one with the
// same conflict semantics.
package repository

import (
	"context"
	"time"

	"telecare-server/internal/models"
	"telecare-server/internal/scheduling"
)

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// List returns users with the given role, or every user when role is empty.
	List(ctx context.Context, role models.Role) ([]models.User, error)
	Update(ctx context.Context, u *models.User) error
	// FirstActive returns the longest-standing active user holding one of roles.
	FirstActive(ctx context.Context, roles ...models.Role) (*models.User, error)
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *models.RefreshToken) error
	FindUsable(ctx context.Context, token, userID string, now time.Time) (*models.RefreshToken, error)
	// Revoke reports whether a live token was revoked.
	Revoke(ctx context.Context, token string, now time.Time) (bool, error)
}

type AppointmentRepository interface {
	// CreateExclusive inserts a only if neither its provider nor its patient
	// has another non-cancelled appointment overlapping its window. The check
	// and the insert are one atomic step; a collision yields *models.ConflictError.
	CreateExclusive(ctx context.Context, a *models.Appointment) error
	// Save persists every field of a. With guard set, the same overlap check
	// as CreateExclusive runs atomically with the write, ignoring a itself.
	Save(ctx context.Context, a *models.Appointment, guard bool) error
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	List(ctx context.Context, f models.AppointmentFilter) (*models.AppointmentPage, error)
	// ListOccupying returns the provider's non-cancelled appointments that
	// intersect window, ordered by start time.
	ListOccupying(ctx context.Context, adminID string, window scheduling.Interval) ([]models.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) error
	// Cancel marks a non-terminal appointment cancelled, writing only the
	// status and cancellation columns. A terminal appointment yields
	// models.ErrInvalidTransition.
	Cancel(ctx context.Context, id string, c Cancellation) (*models.Appointment, error)
}

type ConsultationRepository interface {
	// CreateOrGet inserts c unless a consultation already exists for its
	// appointment, in which case the existing one is returned with created=false.
	CreateOrGet(ctx context.Context, c *models.Consultation) (result *models.Consultation, created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Consultation, error)
	GetByAppointment(ctx context.Context, appointmentID string) (*models.Consultation, error)
	// Transition applies t only while the stored status still equals t.From.
	Transition(ctx context.Context, id string, t Transition) error
	SetNotes(ctx context.Context, id string, field NotesField, text string) error
	SubmitFeedback(ctx context.Context, id string, f FeedbackSubmission) error
	UpsertParticipant(ctx context.Context, p *models.ConsultationParticipant) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// ListFor returns messages involving userID, restricted to one
	// counterpart when withUserID is set, oldest first.
	ListFor(ctx context.Context, userID, withUserID string) ([]models.Message, error)
	// ListSince returns messages sent or received after since, newest first.
	ListSince(ctx context.Context, userID string, since time.Time) ([]models.Message, error)
	Partners(ctx context.Context, userID string) ([]string, error)
	LatestBetween(ctx context.Context, a, b string) (*models.Message, error)
	CountUnread(ctx context.Context, fromID, toID string) (int64, error)
	MarkRead(ctx context.Context, ids []string, at time.Time) error
}

type DocumentRepository interface {
	Create(ctx context.Context, d *models.AppointmentDocument) error
	GetByID(ctx context.Context, id string) (*models.AppointmentDocument, error)
	// ListByAppointment returns metadata only; FileData is left empty.
	ListByAppointment(ctx context.Context, appointmentID string) ([]models.AppointmentDocument, error)
}

// Cancellation is the stamp written when an appointment is cancelled.
type Cancellation struct {
	At     time.Time
	By     string
	Reason string
}

// Transition is one edge of the consultation state machine together with
// the fields it stamps.
type Transition struct {
	From              models.ConsultationStatus
	To                models.ConsultationStatus
	At                time.Time
	Duration          int
	PractitionerNotes string
	Reason            string
}

// Columns lists the column updates the transition performs.
func (t Transition) Columns() map[string]any {
	cols := map[string]any{"status": t.To}
	switch t.To {
	case models.ConsultationActive:
		cols["actual_start_time"] = t.At
	case models.ConsultationCompleted:
		cols["actual_end_time"] = t.At
		cols["duration"] = t.Duration
		if t.PractitionerNotes != "" {
			cols["practitioner_notes"] = t.PractitionerNotes
		}
	case models.ConsultationCancelled:
		cols["cancelled_at"] = t.At
		cols["cancellation_reason"] = t.Reason
	}
	return cols
}

// Apply performs the transition on an in-memory record.
func (t Transition) Apply(c *models.Consultation) {
	at := t.At
	c.Status = t.To
	switch t.To {
	case models.ConsultationActive:
		c.ActualStartTime = &at
	case models.ConsultationCompleted:
		c.ActualEndTime = &at
		c.Duration = t.Duration
		if t.PractitionerNotes != "" {
			c.PractitionerNotes = t.PractitionerNotes
		}
	case models.ConsultationCancelled:
		c.CancelledAt = &at
		c.CancellationReason = t.Reason
	}
}

// NotesField names one of the consultation's free-text note columns.
type NotesField string

const (
	SharedNotes       NotesField = "notes"
	PatientNotes      NotesField = "patient_notes"
	PractitionerNotes NotesField = "practitioner_notes"
)

func (f NotesField) apply(c *models.Consultation, text string) {
	switch f {
	case PatientNotes:
		c.PatientNotes = text
	case PractitionerNotes:
		c.PractitionerNotes = text
	default:
		c.Notes = text
	}
}

// FeedbackSubmission is one side's rating of a consultation.
type FeedbackSubmission struct {
	Side            models.ParticipantRole
	Rating          int
	Feedback        string
	TechnicalRating *int
}

func (f FeedbackSubmission) ratingColumn() string {
	if f.Side == models.ParticipantPractitioner {
		return "feedback_practitioner_rating"
	}
	return "feedback_patient_rating"
}

func (f FeedbackSubmission) columns() map[string]any {
	rating := f.Rating
	cols := map[string]any{f.ratingColumn(): rating}
	if f.Side == models.ParticipantPractitioner {
		cols["feedback_practitioner_feedback"] = f.Feedback
	} else {
		cols["feedback_patient_feedback"] = f.Feedback
	}
	if f.TechnicalRating != nil {
		cols["feedback_technical_rating"] = *f.TechnicalRating
	}
	return cols
}

func (f FeedbackSubmission) submitted(c *models.Consultation) bool {
	if f.Side == models.ParticipantPractitioner {
		return c.Feedback.PractitionerRating != nil
	}
	return c.Feedback.PatientRating != nil
}

func (f FeedbackSubmission) apply(c *models.Consultation) {
	rating := f.Rating
	if f.Side == models.ParticipantPractitioner {
		c.Feedback.PractitionerRating = &rating
		c.Feedback.PractitionerFeedback = f.Feedback
	} else {
		c.Feedback.PatientRating = &rating
		c.Feedback.PatientFeedback = f.Feedback
	}
	if f.TechnicalRating != nil {
		tr := *f.TechnicalRating
		c.Feedback.TechnicalRating = &tr
	}
}

var (
	notesStatuses    = []models.ConsultationStatus{models.ConsultationScheduled, models.ConsultationActive}
	feedbackStatuses = []models.ConsultationStatus{models.ConsultationActive, models.ConsultationCompleted}
)

func statusIn(s models.ConsultationStatus, set []models.ConsultationStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func normalizePage(f *models.AppointmentFilter) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

// Repositories is the full persistence surface the services depend on.
type Repositories struct {
	Users         UserRepository
	Tokens        RefreshTokenRepository
	Appointments  AppointmentRepository
	Consultations ConsultationRepository
	Messages      MessageRepository
	Documents     DocumentRepository
}
