package services

import (
	"errors"

	"telecare-server/internal/models"
)

// Kind groups domain errors by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindUnavailable
)

// Classify maps err onto its Kind.
func Classify(err error) Kind {
	var ve *models.ValidationError
	var ce *models.ConflictError
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce),
		errors.Is(err, models.ErrAppointmentConflict),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrFeedbackAlreadySubmitted),
		errors.Is(err, models.ErrEmailTaken):
		return KindConflict
	case errors.Is(err, models.ErrForbidden):
		return KindForbidden
	case errors.Is(err, models.ErrAppointmentNotFound),
		errors.Is(err, models.ErrConsultationNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrDocumentNotFound):
		return KindNotFound
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrInvalidToken):
		return KindUnauthorized
	case errors.Is(err, models.ErrNoActiveProvider):
		return KindUnavailable
	}
	return KindInternal
}

func invalid(fields ...string) error {
	return models.NewValidationError(fields...)
}
