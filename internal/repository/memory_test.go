package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/models"
	"telecare-server/internal/scheduling"
)

var day = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func appt(patient, admin string, start, end time.Time) *models.Appointment {
	return &models.Appointment{
		PatientID:       patient,
		AdminID:         admin,
		AppointmentType: models.TypeConsultation,
		Status:          models.StatusScheduled,
		StartTime:       start,
		EndTime:         end,
		Reason:          "check-up",
	}
}

func TestCreateExclusiveRejectsProviderOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAppointmentRepository()

	first := appt("p1", "dr", at(10, 0), at(11, 0))
	require.NoError(t, repo.CreateExclusive(ctx, first))

	err := repo.CreateExclusive(ctx, appt("p2", "dr", at(10, 30), at(11, 30)))
	require.ErrorIs(t, err, models.ErrAppointmentConflict)

	var conflict *models.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, models.ConflictProvider, conflict.Party)
	assert.Equal(t, first.ID, conflict.AppointmentID)
}

func TestCreateExclusiveRejectsPatientOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAppointmentRepository()

	require.NoError(t, repo.CreateExclusive(ctx, appt("p1", "dr-a", at(10, 0), at(11, 0))))

	err := repo.CreateExclusive(ctx, appt("p1", "dr-b", at(10, 45), at(11, 15)))
	var conflict *models.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, models.ConflictPatient, conflict.Party)
}

func TestCreateExclusiveAllowsAdjacentAndCancelled(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAppointmentRepository()

	cancelled := appt("p1", "dr", at(9, 0), at(10, 0))
	cancelled.Status = models.StatusCancelled
	require.NoError(t, repo.CreateExclusive(ctx, cancelled))

	require.NoError(t, repo.CreateExclusive(ctx, appt("p2", "dr", at(9, 0), at(10, 0))))
	require.NoError(t, repo.CreateExclusive(ctx, appt("p3", "dr", at(10, 0), at(11, 0))))
}

func TestCreateExclusiveConcurrentBookingsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAppointmentRepository()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.CreateExclusive(ctx, appt("patient-"+string(rune('a'+i)), "dr", at(14, 0), at(15, 0)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrAppointmentConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func TestSaveGuardIgnoresSelf(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAppointmentRepository()

	a := appt("p1", "dr", at(10, 0), at(11, 0))
	require.NoError(t, repo.CreateExclusive(ctx, a))
	require.NoError(t, repo.CreateExclusive(ctx, appt("p2", "dr", at(12, 0), at(13, 0))))

	a.EndTime = at(11, 30)
	require.NoError(t, repo.Save(ctx, a, true))

	a.EndTime = at(12, 30)
	assert.ErrorIs(t, repo.Save(ctx, a, true), models.ErrAppointmentConflict)

	stored, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, at(11, 30), stored.EndTime)
}

func TestListOccupyingSkipsCancelledAndOtherProviders(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAppointmentRepository()

	require.NoError(t, repo.CreateExclusive(ctx, appt("p1", "dr", at(13, 0), at(14, 0))))
	require.NoError(t, repo.CreateExclusive(ctx, appt("p2", "dr", at(9, 0), at(10, 0))))
	require.NoError(t, repo.CreateExclusive(ctx, appt("p3", "other", at(11, 0), at(12, 0))))
	gone := appt("p4", "dr", at(15, 0), at(16, 0))
	require.NoError(t, repo.CreateExclusive(ctx, gone))
	require.NoError(t, repo.UpdateStatus(ctx, gone.ID, models.StatusCancelled))

	got, err := repo.ListOccupying(ctx, "dr", scheduling.Interval{StartTime: day, EndTime: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, at(9, 0), got[0].StartTime)
	assert.Equal(t, at(13, 0), got[1].StartTime)
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAppointmentRepository()
	for h := 9; h < 14; h++ {
		require.NoError(t, repo.CreateExclusive(ctx, appt("p1", "dr", at(h, 0), at(h+1, 0))))
	}

	page, err := repo.List(ctx, models.AppointmentFilter{PatientID: "p1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	require.Len(t, page.Appointments, 2)
	assert.Equal(t, at(11, 0), page.Appointments[0].StartTime)

	page, err = repo.List(ctx, models.AppointmentFilter{PatientID: "p1", Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Appointments)
}

func newConsultation(appointmentID string) *models.Consultation {
	return &models.Consultation{
		AppointmentID:  appointmentID,
		PatientID:      "p1",
		PractitionerID: "dr",
		Status:         models.ConsultationScheduled,
	}
}

func TestCreateOrGetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsultationRepository()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := repo.CreateOrGet(ctx, newConsultation("appt-1"))
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsultationRepository()
	c, _, err := repo.CreateOrGet(ctx, newConsultation("appt-1"))
	require.NoError(t, err)

	start := Transition{From: models.ConsultationScheduled, To: models.ConsultationActive, At: at(10, 0)}
	require.NoError(t, repo.Transition(ctx, c.ID, start))
	assert.ErrorIs(t, repo.Transition(ctx, c.ID, start), models.ErrInvalidTransition)

	end := Transition{From: models.ConsultationActive, To: models.ConsultationCompleted, At: at(10, 42), Duration: 42, PractitionerNotes: "ok"}
	require.NoError(t, repo.Transition(ctx, c.ID, end))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConsultationCompleted, got.Status)
	assert.Equal(t, 42, got.Duration)
	assert.Equal(t, "ok", got.PractitionerNotes)
	require.NotNil(t, got.ActualStartTime)
	assert.Equal(t, at(10, 0), *got.ActualStartTime)

	assert.ErrorIs(t, repo.Transition(ctx, "missing", start), models.ErrConsultationNotFound)
}

func TestSubmitFeedbackOncePerSide(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsultationRepository()
	c, _, err := repo.CreateOrGet(ctx, newConsultation("appt-1"))
	require.NoError(t, err)

	patient := FeedbackSubmission{Side: models.ParticipantPatient, Rating: 5, Feedback: "great"}
	assert.ErrorIs(t, repo.SubmitFeedback(ctx, c.ID, patient), models.ErrInvalidTransition)

	require.NoError(t, repo.Transition(ctx, c.ID, Transition{From: models.ConsultationScheduled, To: models.ConsultationActive, At: at(10, 0)}))
	require.NoError(t, repo.SubmitFeedback(ctx, c.ID, patient))
	assert.ErrorIs(t, repo.SubmitFeedback(ctx, c.ID, patient), models.ErrFeedbackAlreadySubmitted)

	tech := 3
	require.NoError(t, repo.SubmitFeedback(ctx, c.ID, FeedbackSubmission{Side: models.ParticipantPractitioner, Rating: 4, TechnicalRating: &tech}))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *got.Feedback.PatientRating)
	assert.Equal(t, 4, *got.Feedback.PractitionerRating)
	assert.Equal(t, 3, *got.Feedback.TechnicalRating)
}

func TestUpsertParticipantKeyedByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsultationRepository()
	c, _, err := repo.CreateOrGet(ctx, newConsultation("appt-1"))
	require.NoError(t, err)

	joined := at(10, 0)
	p := &models.ConsultationParticipant{ConsultationID: c.ID, UserID: "p1", Role: models.ParticipantPatient, JoinedAt: &joined, ConnectionStatus: models.Connected}
	require.NoError(t, repo.UpsertParticipant(ctx, p))

	left := at(10, 30)
	again := &models.ConsultationParticipant{ConsultationID: c.ID, UserID: "p1", Role: models.ParticipantPatient, JoinedAt: &joined, LeftAt: &left, ConnectionStatus: models.Disconnected}
	require.NoError(t, repo.UpsertParticipant(ctx, again))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, models.Disconnected, got.Participants[0].ConnectionStatus)
	assert.Equal(t, p.ID, got.Participants[0].ID)
}

func TestSetNotesRejectsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsultationRepository()
	c, _, err := repo.CreateOrGet(ctx, newConsultation("appt-1"))
	require.NoError(t, err)

	require.NoError(t, repo.SetNotes(ctx, c.ID, PatientNotes, "headache"))
	require.NoError(t, repo.Transition(ctx, c.ID, Transition{From: models.ConsultationScheduled, To: models.ConsultationCancelled, At: at(9, 0), Reason: "x"}))
	assert.ErrorIs(t, repo.SetNotes(ctx, c.ID, SharedNotes, "late"), models.ErrInvalidTransition)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "headache", got.PatientNotes)
	assert.Empty(t, got.Notes)
}

func TestUserFirstActiveUsesCreationOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	require.NoError(t, repo.Create(ctx, &models.User{Email: "off@x.io", Role: models.RoleAdmin}))
	require.NoError(t, repo.Create(ctx, &models.User{Email: "a@x.io", Role: models.RoleAdmin, IsActive: true}))
	require.NoError(t, repo.Create(ctx, &models.User{Email: "b@x.io", Role: models.RoleAdmin, IsActive: true}))

	u, err := repo.FirstActive(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", u.Email)

	_, err = repo.FirstActive(ctx, models.RoleStaff)
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	assert.ErrorIs(t, repo.Create(ctx, &models.User{Email: "A@x.io"}), models.ErrEmailTaken)
}

func TestRefreshTokenRevoke(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRefreshTokenRepository()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, &models.RefreshToken{UserID: "u1", Token: "tok", ExpiresAt: now.Add(time.Hour)}))
	_, err := repo.FindUsable(ctx, "tok", "u1", now)
	require.NoError(t, err)

	ok, err := repo.Revoke(ctx, "tok", now)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.FindUsable(ctx, "tok", "u1", now)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestMessagesConversationQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	m1 := &models.Message{SenderID: "a", ReceiverID: "b", Content: "hi", Status: models.MessageStatusSent}
	m2 := &models.Message{SenderID: "b", ReceiverID: "a", Content: "hello", Status: models.MessageStatusSent}
	m3 := &models.Message{SenderID: "c", ReceiverID: "a", Content: "ping", Status: models.MessageStatusSent}
	for _, m := range []*models.Message{m1, m2, m3} {
		require.NoError(t, repo.Create(ctx, m))
	}

	partners, err := repo.Partners(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, partners)

	latest, err := repo.LatestBetween(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, m2.ID, latest.ID)

	n, err := repo.CountUnread(ctx, "b", "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, repo.MarkRead(ctx, []string{m2.ID}, time.Now()))
	n, err = repo.CountUnread(ctx, "b", "a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelWritesOnlyCancellationColumns(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAppointmentRepository()

	a := appt("p1", "dr", at(10, 0), at(11, 0))
	require.NoError(t, repo.CreateExclusive(ctx, a))
	a.Notes = "bring previous audiogram"
	require.NoError(t, repo.Save(ctx, a, false))

	got, err := repo.Cancel(ctx, a.ID, Cancellation{At: at(8, 0), By: "p1", Reason: "ill"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "bring previous audiogram", got.Notes)
	assert.Equal(t, "ill", got.CancellationReason)
	require.NotNil(t, got.CancelledAt)

	_, err = repo.Cancel(ctx, a.ID, Cancellation{At: at(8, 0), By: "p1"})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = repo.Cancel(ctx, "missing", Cancellation{})
	assert.ErrorIs(t, err, models.ErrAppointmentNotFound)
}
