package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telecare-server/internal/events"
	"telecare-server/internal/metrics"
	"telecare-server/internal/models"
	"telecare-server/internal/repository"
	"telecare-server/internal/scheduling"
)

// bookingDay is the calendar day most tests book on; the clock starts the
// day before.
var bookingDay = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return bookingDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx    context.Context
	mem    *repository.Memory
	repos  repository.Repositories
	clock  *testClock
	events *events.MemoryPublisher
	deps   Deps

	admin    *models.User
	staff    *models.User
	patient  *models.User
	patient2 *models.User
	outsider *models.User

	appointments  *AppointmentService
	consultations *ConsultationService
	slots         *SlotService
	providers     *ProviderResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repository.NewMemory()
	f := &fixture{
		ctx:    context.Background(),
		mem:    mem,
		repos:  mem.Repositories(),
		clock:  &testClock{now: bookingDay.Add(-12 * time.Hour)},
		events: &events.MemoryPublisher{},
	}
	f.deps = Deps{
		Log:     zap.NewNop(),
		Metrics: metrics.NewCollector("test"),
		Events:  f.events,
		Now:     f.clock.Now,
	}

	// Created first so the resolver must skip it.
	f.addUser(t, "retired@clinic.test", models.RoleAdmin, false)
	f.admin = f.addUser(t, "admin@clinic.test", models.RoleAdmin, true)
	f.staff = f.addUser(t, "staff@clinic.test", models.RoleStaff, true)
	f.patient = f.addUser(t, "pat@home.test", models.RolePatient, true)
	f.patient2 = f.addUser(t, "pat2@home.test", models.RolePatient, true)
	f.outsider = f.addUser(t, "other@home.test", models.RolePatient, true)

	template := scheduling.DefaultTemplate()
	template.Location = time.UTC

	f.appointments = NewAppointmentService(f.repos, f.deps)
	f.consultations = NewConsultationService(f.repos, f.deps)
	f.slots = NewSlotService(f.repos.Appointments, template, f.deps)
	f.providers = NewProviderResolver(f.repos.Users, "", zap.NewNop())
	return f
}

func (f *fixture) addUser(t *testing.T, email string, role models.Role, active bool) *models.User {
	t.Helper()
	u := &models.User{Email: email, FirstName: "Test", LastName: string(role), Role: role, IsActive: active}
	require.NoError(t, u.SetPassword("correct-horse"))
	require.NoError(t, f.repos.Users.Create(f.ctx, u))
	return u
}

func caller(u *models.User) models.Caller {
	return models.Caller{ID: u.ID, Role: u.Role}
}

func (f *fixture) book(t *testing.T, patient, provider *models.User, start, end time.Time) *models.Appointment {
	t.Helper()
	a, err := f.appointments.Create(f.ctx, caller(patient), CreateAppointmentInput{
		PatientID:  patient.ID,
		ProviderID: provider.ID,
		Type:       models.TypeConsultation,
		StartTime:  start,
		EndTime:    end,
		Reason:     "hearing check",
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) consultation(t *testing.T) *models.Consultation {
	t.Helper()
	a := f.book(t, f.patient, f.admin, at(10, 0), at(11, 0))
	c, created, err := f.consultations.Create(f.ctx, caller(f.patient), a.ID)
	require.NoError(t, err)
	require.True(t, created)
	return c
}
