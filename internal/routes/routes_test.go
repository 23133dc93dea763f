package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telecare-server/internal/config"
	"telecare-server/internal/events"
	"telecare-server/internal/metrics"
	"telecare-server/internal/models"
	"telecare-server/internal/repository"
	"telecare-server/internal/services"
)

var bookingDay = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

type api struct {
	t      *testing.T
	router *gin.Engine
	repos  repository.Repositories
	deps   services.Deps
	events *events.MemoryPublisher
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:               "test",
		JWTSecret:                 "access-secret",
		JWTRefreshSecret:          "refresh-secret",
		JWTExpirationMinutes:      15,
		JWTRefreshExpirationHours: 24,
		MaxDocumentBytes:          1024,
		Schedule: config.ScheduleConfig{
			DayStartHour: 9,
			DayEndHour:   17,
			SlotMinutes:  60,
			Timezone:     "UTC",
		},
	}
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pub := &events.MemoryPublisher{}
	repos := repository.NewMemory().Repositories()
	deps := services.Deps{
		Log:     zap.NewNop(),
		Metrics: metrics.NewCollector("test"),
		Events:  pub,
		Now:     func() time.Time { return bookingDay.Add(-12 * time.Hour) },
	}

	router := gin.New()
	require.NoError(t, SetupRoutes(router, Options{Config: testConfig(), Repos: repos, Deps: deps, Started: time.Now()}))
	return &api{t: t, router: router, repos: repos, deps: deps, events: pub}
}

func (a *api) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, token)
}

func (a *api) send(req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (a *api) seedUser(email string, role models.Role) *models.User {
	a.t.Helper()
	u := &models.User{Email: email, FirstName: "Test", LastName: string(role), Role: role, IsActive: true}
	require.NoError(a.t, u.SetPassword("correct-horse"))
	require.NoError(a.t, a.repos.Users.Create(context.Background(), u))
	return u
}

func (a *api) login(email string) string {
	a.t.Helper()
	w, env := a.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": "correct-horse"})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(a.t, json.Unmarshal(env.Data, &out))
	return out.AccessToken
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func bookingBody(startHour int) gin.H {
	return gin.H{
		"appointmentType": "consultation",
		"startTime":       bookingDay.Add(time.Duration(startHour) * time.Hour).Format(time.RFC3339),
		"endTime":         bookingDay.Add(time.Duration(startHour+1) * time.Hour).Format(time.RFC3339),
		"reason":          "hearing aid fitting",
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)

	w, _ := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAuthFlow(t *testing.T) {
	a := newAPI(t)

	w, env := a.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"firstName": "Ada", "lastName": "Patient", "email": "Ada@Home.test", "password": "long-enough",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[models.UserSanitized](t, env.Data)
	assert.Equal(t, models.RolePatient, user.Role)
	assert.Equal(t, "ada@home.test", user.Email)

	w, _ = a.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"firstName": "Ada", "lastName": "Again", "email": "ada@home.test", "password": "long-enough",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = a.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ada@home.test", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = a.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ada@home.test", "password": "long-enough"})
	require.Equal(t, http.StatusOK, w.Code)
	tokens := decode[services.TokenPair](t, env.Data)
	assert.NotEmpty(t, tokens.AccessToken)

	w, env = a.do(http.MethodPost, "/api/v1/auth/refresh-token", "", gin.H{"refreshToken": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rotated := decode[services.TokenPair](t, env.Data)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// The old refresh token was revoked by rotation.
	w, _ = a.do(http.MethodPost, "/api/v1/auth/refresh-token", "", gin.H{"refreshToken": tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = a.do(http.MethodGet, "/api/v1/auth/profile", rotated.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.ID, decode[models.UserSanitized](t, env.Data).ID)

	w, _ = a.do(http.MethodPost, "/api/v1/auth/logout", rotated.AccessToken, gin.H{"refreshToken": rotated.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = a.do(http.MethodPost, "/api/v1/auth/refresh-token", "", gin.H{"refreshToken": rotated.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	a := newAPI(t)

	w, env := a.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "Validation failed")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newAPI(t)
	a.seedUser("pat@home.test", models.RolePatient)
	patient := a.login("pat@home.test")

	w, _ := a.do(http.MethodGet, "/api/v1/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/appointments", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/users", patient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/appointments/not-a-uuid", patient, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAvailableSlots(t *testing.T) {
	a := newAPI(t)
	a.seedUser("pat@home.test", models.RolePatient)
	patient := a.login("pat@home.test")

	w, _ := a.do(http.MethodGet, "/api/v1/appointments/available-slots?date=2030-03-04", patient, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no provider exists yet")

	w, _ = a.do(http.MethodGet, "/api/v1/appointments/available-slots?date=garbage", patient, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "a bad date is reported before provider lookup")

	a.seedUser("admin@clinic.test", models.RoleAdmin)

	w, _ = a.do(http.MethodGet, "/api/v1/appointments/available-slots", patient, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/appointments/available-slots?date=04/03/2030", patient, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := a.do(http.MethodGet, "/api/v1/appointments/available-slots?date=2030-03-04", patient, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Slots []struct {
			StartTime time.Time `json:"startTime"`
		} `json:"slots"`
	}](t, env.Data)
	require.Len(t, resp.Slots, 8)
	assert.Equal(t, bookingDay.Add(9*time.Hour), resp.Slots[0].StartTime.UTC())
	assert.Equal(t, bookingDay.Add(16*time.Hour), resp.Slots[7].StartTime.UTC())
}

func TestBookingConflictAndSlots(t *testing.T) {
	a := newAPI(t)
	admin := a.seedUser("admin@clinic.test", models.RoleAdmin)
	a.seedUser("pat@home.test", models.RolePatient)
	a.seedUser("pat2@home.test", models.RolePatient)
	first := a.login("pat@home.test")
	second := a.login("pat2@home.test")

	w, env := a.do(http.MethodPost, "/api/v1/appointments", first, bookingBody(14))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	booked := decode[models.Appointment](t, env.Data)
	assert.Equal(t, admin.ID, booked.AdminID)
	assert.Equal(t, models.StatusScheduled, booked.Status)

	w, env = a.do(http.MethodPost, "/api/v1/appointments", second, bookingBody(14))
	require.Equal(t, http.StatusConflict, w.Code)
	details := decode[map[string]any](t, env.Details)
	assert.Equal(t, "provider", details["party"])
	assert.Equal(t, booked.ID, details["appointmentId"])

	w, env = a.do(http.MethodGet, "/api/v1/appointments/available-slots?date=2030-03-04", second, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Slots []json.RawMessage `json:"slots"`
	}](t, env.Data)
	assert.Len(t, resp.Slots, 7)

	// The second patient cannot see the first patient's booking.
	w, _ = a.do(http.MethodGet, "/api/v1/appointments/"+booked.ID, second, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = a.do(http.MethodPost, "/api/v1/appointments/"+booked.ID+"/cancel", first, gin.H{"reason": "travelling"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusCancelled, decode[models.Appointment](t, env.Data).Status)

	w, _ = a.do(http.MethodPost, "/api/v1/appointments", second, bookingBody(14))
	assert.Equal(t, http.StatusCreated, w.Code)

	assert.Contains(t, a.events.Types(), events.AppointmentCancelled)
}

func TestBookingRejectsPastAndInvertedWindows(t *testing.T) {
	a := newAPI(t)
	a.seedUser("admin@clinic.test", models.RoleAdmin)
	a.seedUser("pat@home.test", models.RolePatient)
	patient := a.login("pat@home.test")

	past := bookingBody(14)
	past["startTime"] = bookingDay.Add(-48 * time.Hour).Format(time.RFC3339)
	past["endTime"] = bookingDay.Add(-47 * time.Hour).Format(time.RFC3339)
	w, _ := a.do(http.MethodPost, "/api/v1/appointments", patient, past)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	inverted := bookingBody(14)
	inverted["endTime"] = bookingDay.Add(13 * time.Hour).Format(time.RFC3339)
	w, _ = a.do(http.MethodPost, "/api/v1/appointments", patient, inverted)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsultationLifecycle(t *testing.T) {
	a := newAPI(t)
	a.seedUser("admin@clinic.test", models.RoleAdmin)
	a.seedUser("pat@home.test", models.RolePatient)
	admin := a.login("admin@clinic.test")
	patient := a.login("pat@home.test")

	w, env := a.do(http.MethodPost, "/api/v1/appointments", patient, bookingBody(10))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	appt := decode[models.Appointment](t, env.Data)

	w, env = a.do(http.MethodPost, "/api/v1/consultations", patient, gin.H{"appointmentId": appt.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cons := decode[models.Consultation](t, env.Data)

	w, env = a.do(http.MethodPost, "/api/v1/consultations", admin, gin.H{"appointmentId": appt.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cons.ID, decode[models.Consultation](t, env.Data).ID)

	w, env = a.do(http.MethodGet, "/api/v1/consultations/appointment/"+appt.ID, patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cons.ID, decode[models.Consultation](t, env.Data).ID)

	base := "/api/v1/consultations/" + cons.ID

	w, _ = a.do(http.MethodPost, base+"/end", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "ending a session that never started")

	w, env = a.do(http.MethodPost, base+"/start", patient, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ConsultationActive, decode[models.Consultation](t, env.Data).Status)

	w, _ = a.do(http.MethodPost, base+"/start", patient, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = a.do(http.MethodPost, base+"/join", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.Consultation](t, env.Data).Participants, 1)

	w, env = a.do(http.MethodPost, base+"/notes", patient, gin.H{"notes": "ringing in left ear"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ringing in left ear", decode[models.Consultation](t, env.Data).PatientNotes)

	w, _ = a.do(http.MethodPost, base+"/notes", patient, gin.H{"notes": "x", "type": "practitioner"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(http.MethodPost, base+"/end", patient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = a.do(http.MethodPost, base+"/end", admin, gin.H{"notes": "fitted"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ended := decode[models.Consultation](t, env.Data)
	assert.Equal(t, models.ConsultationCompleted, ended.Status)
	assert.Equal(t, "fitted", ended.PractitionerNotes)

	w, env = a.do(http.MethodGet, "/api/v1/appointments/"+appt.ID, patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusCompleted, decode[models.Appointment](t, env.Data).Status)

	w, _ = a.do(http.MethodPost, base+"/feedback", patient, gin.H{"rating": 6})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(http.MethodPost, base+"/feedback", patient, gin.H{"rating": 5, "feedback": "great", "technicalRating": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = a.do(http.MethodPost, base+"/feedback", patient, gin.H{"rating": 4})
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Contains(t, a.events.Types(), events.ConsultationCompleted)
}

func TestUserAdministration(t *testing.T) {
	a := newAPI(t)
	a.seedUser("admin@clinic.test", models.RoleAdmin)
	admin := a.login("admin@clinic.test")

	w, env := a.do(http.MethodPost, "/api/v1/users", admin, gin.H{
		"firstName": "Sam", "lastName": "Staff", "email": "sam@clinic.test", "password": "long-enough", "role": "staff",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	staff := decode[models.UserSanitized](t, env.Data)

	w, env = a.do(http.MethodGet, "/api/v1/users/providers", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.UserSanitized](t, env.Data), 2)

	w, _ = a.do(http.MethodDelete, "/api/v1/users/"+staff.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = a.do(http.MethodGet, "/api/v1/users/"+staff.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.UserSanitized](t, env.Data).IsActive)

	w, _ = a.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "sam@clinic.test", "password": "long-enough"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMessaging(t *testing.T) {
	a := newAPI(t)
	admin := a.seedUser("admin@clinic.test", models.RoleAdmin)
	patientUser := a.seedUser("pat@home.test", models.RolePatient)
	other := a.seedUser("pat2@home.test", models.RolePatient)
	patient := a.login("pat@home.test")
	adminToken := a.login("admin@clinic.test")

	w, _ := a.do(http.MethodPost, "/api/v1/messages/send", patient, gin.H{"recipientId": other.ID, "content": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code, "patients may only message staff")

	w, env := a.do(http.MethodPost, "/api/v1/messages/send", patient, gin.H{"recipientId": admin.ID, "content": "my aid whistles"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decode[models.Message](t, env.Data)

	w, env = a.do(http.MethodGet, "/api/v1/messages/conversations", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	convs := decode[[]models.Conversation](t, env.Data)
	require.Len(t, convs, 1)
	assert.Equal(t, patientUser.ID, convs[0].Partner.ID)
	assert.EqualValues(t, 1, convs[0].UnreadCount)

	w, _ = a.do(http.MethodPatch, "/api/v1/messages/"+msg.ID+"/read", patient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = a.do(http.MethodPatch, "/api/v1/messages/"+msg.ID+"/read", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.MessageStatusRead, decode[models.Message](t, env.Data).Status)

	w, _ = a.do(http.MethodGet, "/api/v1/messages/new?since=yesterday", patient, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Stored timestamps come from the wall clock, not the injected one.
	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w, env = a.do(http.MethodGet, "/api/v1/messages/new?since="+since, patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Message](t, env.Data), 1)
}

func TestDocumentUploadAndDownload(t *testing.T) {
	a := newAPI(t)
	a.seedUser("admin@clinic.test", models.RoleAdmin)
	a.seedUser("pat@home.test", models.RolePatient)
	a.seedUser("pat2@home.test", models.RolePatient)
	patient := a.login("pat@home.test")
	stranger := a.login("pat2@home.test")

	w, env := a.do(http.MethodPost, "/api/v1/appointments", patient, bookingBody(11))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	appt := decode[models.Appointment](t, env.Data)

	upload := func(token, name string, content []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/"+appt.ID+"/documents", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w, _ := a.send(req, token)
		return w
	}

	w = upload(patient, "../../referral.pdf", []byte("%PDF-1.4 referral"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	doc := decode[models.AppointmentDocument](t, created.Data)
	assert.Equal(t, "referral.pdf", doc.FileName)

	w = upload(stranger, "x.txt", []byte("x"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = upload(patient, "big.bin", bytes.Repeat([]byte("a"), 2048))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = a.do(http.MethodGet, "/api/v1/appointments/"+appt.ID+"/documents", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.AppointmentDocument](t, env.Data), 1)

	w, _ = a.do(http.MethodGet, "/api/v1/documents/"+doc.ID, patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 referral", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "referral.pdf")

	w, _ = a.do(http.MethodGet, "/api/v1/documents/"+doc.ID, stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTemplateFrom(t *testing.T) {
	tpl, err := TemplateFrom(config.ScheduleConfig{DayStartHour: 8, DayEndHour: 12, SlotMinutes: 30, Timezone: "UTC"})
	require.NoError(t, err)
	assert.Len(t, tpl.Candidates(bookingDay), 8)

	_, err = TemplateFrom(config.ScheduleConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}
