package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Not found.
var (
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrConsultationNotFound = errors.New("consultation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrDocumentNotFound     = errors.New("document not found")
)

// Conflict.
var (
	ErrAppointmentConflict      = errors.New("appointment time slot is already booked")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrFeedbackAlreadySubmitted = errors.New("feedback has already been submitted")
	ErrEmailTaken               = errors.New("a user with this email already exists")
)

var (
	ErrForbidden          = errors.New("forbidden: insufficient permissions")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("refresh token not found, expired, or revoked")

	// ErrNoActiveProvider is a setup problem: booking cannot proceed until an
	// operator creates or activates a provider account.
	ErrNoActiveProvider = errors.New("no active provider is configured")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Fields []string
}

func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// ConflictParty says which side of the booking collided.
type ConflictParty string

const (
	ConflictProvider ConflictParty = "provider"
	ConflictPatient  ConflictParty = "patient"
)

// ConflictError identifies the appointment that blocks a requested window.
type ConflictError struct {
	Party         ConflictParty
	AppointmentID string
	StartTime     time.Time
	EndTime       time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s already has appointment %s from %s to %s",
		ErrAppointmentConflict, e.Party, e.AppointmentID,
		e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error {
	return ErrAppointmentConflict
}

// ConflictWith builds the conflict error for an existing appointment that
// blocks the window requested by patientID.
func ConflictWith(existing *Appointment, patientID string) *ConflictError {
	party := ConflictProvider
	if existing.PatientID == patientID {
		party = ConflictPatient
	}
	return &ConflictError{
		Party:         party,
		AppointmentID: existing.ID,
		StartTime:     existing.StartTime,
		EndTime:       existing.EndTime,
	}
}
