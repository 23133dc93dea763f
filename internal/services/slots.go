package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"telecare-server/internal/repository"
	"telecare-server/internal/scheduling"
)

// SlotService computes bookable windows for one provider and day. Results
// are derived from stored appointments on every call.
type SlotService struct {
	appointments repository.AppointmentRepository
	template     scheduling.Template
	deps         Deps
}

func NewSlotService(appointments repository.AppointmentRepository, template scheduling.Template, deps Deps) *SlotService {
	return &SlotService{appointments: appointments, template: template, deps: deps.withDefaults()}
}

// ParseDay resolves rawDate to midnight in the schedule's timezone.
func (s *SlotService) ParseDay(rawDate string) (time.Time, error) {
	day, err := scheduling.ParseDate(rawDate, s.template.Location)
	if err != nil {
		return time.Time{}, invalid(err.Error())
	}
	return day, nil
}

// GetAvailableSlots returns the free template slots of providerID on the
// calendar day named by rawDate, in chronological order.
func (s *SlotService) GetAvailableSlots(ctx context.Context, rawDate, providerID string) (slots []scheduling.Interval, err error) {
	ctx, span := startSpan(ctx, "SlotService.GetAvailableSlots",
		attribute.String("provider.id", providerID), attribute.String("date", rawDate))
	defer func() { endSpan(span, err) }()

	day, err := s.ParseDay(rawDate)
	if err != nil {
		return nil, err
	}
	if providerID == "" {
		return nil, errors.New("slot query without a provider")
	}

	booked, err := s.appointments.ListOccupying(ctx, providerID, s.template.DayBounds(day))
	if err != nil {
		s.deps.Log.Error("listing provider appointments", zap.String("provider_id", providerID), zap.Error(err))
		return nil, fmt.Errorf("listing provider appointments: %w", err)
	}

	windows := make([]scheduling.Interval, 0, len(booked))
	for i := range booked {
		windows = append(windows, booked[i].Window())
	}

	slots = s.template.Available(day, windows, s.deps.Now())
	s.deps.Metrics.ObserveSlotQuery(len(slots))
	return slots, nil
}
