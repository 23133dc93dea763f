package services

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/models"
)

func TestGetAvailableSlotsEmptyDay(t *testing.T) {
	f := newFixture(t)

	slots, err := f.slots.GetAvailableSlots(f.ctx, "2030-03-04", f.admin.ID)
	require.NoError(t, err)
	require.Len(t, slots, 8)
	for i, s := range slots {
		assert.Equal(t, at(9+i, 0), s.StartTime)
		assert.Equal(t, time.Hour, s.Duration())
	}
}

func TestGetAvailableSlotsExcludesBookedHour(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.patient, f.admin, at(10, 0), at(11, 0))

	slots, err := f.slots.GetAvailableSlots(f.ctx, "2030-03-04", f.admin.ID)
	require.NoError(t, err)
	require.Len(t, slots, 7)
	for _, s := range slots {
		assert.NotEqual(t, 10, s.StartTime.Hour())
	}
}

func TestGetAvailableSlotsPartialOverlapExcludesBothNeighbours(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.patient, f.admin, at(13, 30), at(14, 30))

	slots, err := f.slots.GetAvailableSlots(f.ctx, "2030-03-04", f.admin.ID)
	require.NoError(t, err)
	require.Len(t, slots, 6)
	for _, s := range slots {
		assert.NotContains(t, []int{13, 14}, s.StartTime.Hour())
	}
}

func TestGetAvailableSlotsIgnoresOtherProviders(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.patient, f.staff, at(10, 0), at(11, 0))

	slots, err := f.slots.GetAvailableSlots(f.ctx, "2030-03-04", f.admin.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 8)
}

func TestGetAvailableSlotsNeverReturnsPastSlots(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(at(12, 0))

	slots, err := f.slots.GetAvailableSlots(f.ctx, "2030-03-04", f.admin.ID)
	require.NoError(t, err)
	require.Len(t, slots, 4)
	for _, s := range slots {
		assert.True(t, s.StartTime.After(f.clock.Now()))
	}
}

func TestCancelledAppointmentFreesSlot(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.patient, f.admin, at(10, 0), at(11, 0))

	_, err := f.appointments.Cancel(f.ctx, caller(f.patient), a.ID, "")
	require.NoError(t, err)

	slots, err := f.slots.GetAvailableSlots(f.ctx, "2030-03-04", f.admin.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 8)

	f.book(t, f.patient2, f.admin, at(10, 0), at(11, 0))
}

func TestGetAvailableSlotsValidatesDate(t *testing.T) {
	f := newFixture(t)

	_, err := f.slots.GetAvailableSlots(f.ctx, "", f.admin.ID)
	assert.Equal(t, KindValidation, Classify(err))

	_, err = f.slots.GetAvailableSlots(f.ctx, "04/03/2030", f.admin.ID)
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)

	day, err := f.slots.ParseDay("2030-03-04")
	require.NoError(t, err)
	assert.True(t, bookingDay.Equal(day))
	_, err = f.slots.ParseDay("garbage")
	assert.Equal(t, KindValidation, Classify(err))
}

func TestSlotQueriesAreRecorded(t *testing.T) {
	f := newFixture(t)
	_, err := f.slots.GetAvailableSlots(f.ctx, "2030-03-04", f.admin.ID)
	require.NoError(t, err)
	_, err = f.slots.GetAvailableSlots(f.ctx, "2030-03-05", f.admin.ID)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.deps.Metrics.SlotQueries))
}
