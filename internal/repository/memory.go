package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecare-server/internal/models"
	"telecare-server/internal/scheduling"
)

// Memory bundles in-memory repositories for DB_DRIVER=memory and tests.
// Each repository guards its state with its own mutex, and every read
// returns a copy so callers never alias stored records.
type Memory struct {
	Users         *MemoryUserRepository
	Tokens        *MemoryRefreshTokenRepository
	Appointments  *MemoryAppointmentRepository
	Consultations *MemoryConsultationRepository
	Messages      *MemoryMessageRepository
	Documents     *MemoryDocumentRepository
}

func NewMemory() *Memory {
	return &Memory{
		Users:         NewMemoryUserRepository(),
		Tokens:        NewMemoryRefreshTokenRepository(),
		Appointments:  NewMemoryAppointmentRepository(),
		Consultations: NewMemoryConsultationRepository(),
		Messages:      NewMemoryMessageRepository(),
		Documents:     NewMemoryDocumentRepository(),
	}
}

// stamp fills what gorm's create callbacks would.
func stamp(b *models.BaseModel) {
	now := time.Now()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// ---- users ----

type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
	order []string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]models.User)}
}

func (r *MemoryUserRepository) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return models.ErrEmailTaken
		}
	}
	stamp(&u.BaseModel)
	r.users[u.ID] = *u
	r.order = append(r.order, u.ID)
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (r *MemoryUserRepository) List(_ context.Context, role models.Role) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]models.User, 0, len(r.order))
	for _, id := range r.order {
		u := r.users[id]
		if role == "" || u.Role == role {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *MemoryUserRepository) Update(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.users[u.ID]
	if !ok {
		return models.ErrUserNotFound
	}
	for id, existing := range r.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return models.ErrEmailTaken
		}
	}
	u.CreatedAt = old.CreatedAt
	u.UpdatedAt = time.Now()
	r.users[u.ID] = *u
	return nil
}

// FirstActive walks users in creation order.
func (r *MemoryUserRepository) FirstActive(_ context.Context, roles ...models.Role) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		u := r.users[id]
		if !u.IsActive {
			continue
		}
		for _, role := range roles {
			if u.Role == role {
				return &u, nil
			}
		}
	}
	return nil, models.ErrUserNotFound
}

// ---- refresh tokens ----

type MemoryRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]models.RefreshToken
}

func NewMemoryRefreshTokenRepository() *MemoryRefreshTokenRepository {
	return &MemoryRefreshTokenRepository{tokens: make(map[string]models.RefreshToken)}
}

func (r *MemoryRefreshTokenRepository) Create(_ context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamp(&t.BaseModel)
	r.tokens[t.Token] = *t
	return nil
}

func (r *MemoryRefreshTokenRepository) FindUsable(_ context.Context, token, userID string, now time.Time) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok || t.UserID != userID || !t.Usable(now) {
		return nil, models.ErrInvalidToken
	}
	return &t, nil
}

func (r *MemoryRefreshTokenRepository) Revoke(_ context.Context, token string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	t.ExpiresAt = now
	r.tokens[token] = t
	return true, nil
}

// ---- appointments ----

type MemoryAppointmentRepository struct {
	mu           sync.Mutex
	appointments map[string]models.Appointment
}

func NewMemoryAppointmentRepository() *MemoryAppointmentRepository {
	return &MemoryAppointmentRepository{appointments: make(map[string]models.Appointment)}
}

func (r *MemoryAppointmentRepository) CreateExclusive(_ context.Context, a *models.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conflict(a); err != nil {
		return err
	}
	stamp(&a.BaseModel)
	stored := *a
	stored.Documents = nil
	r.appointments[a.ID] = stored
	return nil
}

func (r *MemoryAppointmentRepository) Save(_ context.Context, a *models.Appointment, guard bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.appointments[a.ID]
	if !ok {
		return models.ErrAppointmentNotFound
	}
	if guard && a.OccupiesTime() {
		if err := r.conflict(a); err != nil {
			return err
		}
	}
	stored := *a
	stored.CreatedAt = old.CreatedAt
	stored.UpdatedAt = time.Now()
	stored.Documents = nil
	r.appointments[a.ID] = stored
	a.UpdatedAt = stored.UpdatedAt
	return nil
}

// conflict must be called with mu held. The earliest blocking appointment wins.
func (r *MemoryAppointmentRepository) conflict(a *models.Appointment) error {
	var blocking *models.Appointment
	window := a.Window()
	for id := range r.appointments {
		existing := r.appointments[id]
		if existing.ID == a.ID || !existing.OccupiesTime() {
			continue
		}
		if existing.AdminID != a.AdminID && existing.PatientID != a.PatientID {
			continue
		}
		if !existing.Window().Overlaps(window) {
			continue
		}
		if blocking == nil || existing.StartTime.Before(blocking.StartTime) {
			e := existing
			blocking = &e
		}
	}
	if blocking != nil {
		return models.ConflictWith(blocking, a.PatientID)
	}
	return nil
}

func (r *MemoryAppointmentRepository) GetByID(_ context.Context, id string) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, models.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryAppointmentRepository) List(_ context.Context, f models.AppointmentFilter) (*models.AppointmentPage, error) {
	normalizePage(&f)
	r.mu.Lock()
	matched := make([]models.Appointment, 0)
	for _, a := range r.appointments {
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		if f.AdminID != "" && a.AdminID != f.AdminID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.From != nil && a.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.StartTime.Before(*f.To) {
			continue
		}
		matched = append(matched, a)
	}
	r.mu.Unlock()

	sortByStart(matched)
	total := len(matched)
	lo := min((f.Page-1)*f.PageSize, total)
	hi := min(lo+f.PageSize, total)

	return &models.AppointmentPage{
		Appointments: matched[lo:hi],
		Total:        int64(total),
		Page:         f.Page,
		PageSize:     f.PageSize,
	}, nil
}

func (r *MemoryAppointmentRepository) ListOccupying(_ context.Context, adminID string, window scheduling.Interval) ([]models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Appointment
	for _, a := range r.appointments {
		if a.AdminID == adminID && a.OccupiesTime() && a.Window().Overlaps(window) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryAppointmentRepository) UpdateStatus(_ context.Context, id string, status models.AppointmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return models.ErrAppointmentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return nil
}

func (r *MemoryAppointmentRepository) Cancel(_ context.Context, id string, c Cancellation) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, models.ErrAppointmentNotFound
	}
	if a.Status.IsTerminal() {
		return nil, models.ErrInvalidTransition
	}
	at := c.At
	a.Status = models.StatusCancelled
	a.CancelledAt = &at
	a.CancelledBy = c.By
	a.CancellationReason = c.Reason
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func sortByStart(as []models.Appointment) {
	sort.SliceStable(as, func(i, j int) bool {
		if as[i].StartTime.Equal(as[j].StartTime) {
			return as[i].ID < as[j].ID
		}
		return as[i].StartTime.Before(as[j].StartTime)
	})
}

// ---- consultations ----

type MemoryConsultationRepository struct {
	mu            sync.Mutex
	consultations map[string]*models.Consultation
	byAppointment map[string]string
}

func NewMemoryConsultationRepository() *MemoryConsultationRepository {
	return &MemoryConsultationRepository{
		consultations: make(map[string]*models.Consultation),
		byAppointment: make(map[string]string),
	}
}

func cloneConsultation(c *models.Consultation) *models.Consultation {
	out := *c
	out.Participants = append([]models.ConsultationParticipant(nil), c.Participants...)
	return &out
}

func (r *MemoryConsultationRepository) CreateOrGet(_ context.Context, c *models.Consultation) (*models.Consultation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byAppointment[c.AppointmentID]; ok {
		return cloneConsultation(r.consultations[id]), false, nil
	}
	stamp(&c.BaseModel)
	r.consultations[c.ID] = cloneConsultation(c)
	r.byAppointment[c.AppointmentID] = c.ID
	return c, true, nil
}

func (r *MemoryConsultationRepository) GetByID(_ context.Context, id string) (*models.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consultations[id]
	if !ok {
		return nil, models.ErrConsultationNotFound
	}
	return cloneConsultation(c), nil
}

func (r *MemoryConsultationRepository) GetByAppointment(ctx context.Context, appointmentID string) (*models.Consultation, error) {
	r.mu.Lock()
	id, ok := r.byAppointment[appointmentID]
	r.mu.Unlock()
	if !ok {
		return nil, models.ErrConsultationNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryConsultationRepository) Transition(_ context.Context, id string, t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consultations[id]
	if !ok {
		return models.ErrConsultationNotFound
	}
	if c.Status != t.From || !t.From.CanTransition(t.To) {
		return models.ErrInvalidTransition
	}
	t.Apply(c)
	c.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryConsultationRepository) SetNotes(_ context.Context, id string, field NotesField, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consultations[id]
	if !ok {
		return models.ErrConsultationNotFound
	}
	if !statusIn(c.Status, notesStatuses) {
		return models.ErrInvalidTransition
	}
	field.apply(c, text)
	c.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryConsultationRepository) SubmitFeedback(_ context.Context, id string, f FeedbackSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consultations[id]
	if !ok {
		return models.ErrConsultationNotFound
	}
	if !statusIn(c.Status, feedbackStatuses) {
		return models.ErrInvalidTransition
	}
	if f.submitted(c) {
		return models.ErrFeedbackAlreadySubmitted
	}
	f.apply(c)
	c.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryConsultationRepository) UpsertParticipant(_ context.Context, p *models.ConsultationParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consultations[p.ConsultationID]
	if !ok {
		return models.ErrConsultationNotFound
	}
	if existing, ok := c.Participant(p.UserID); ok {
		p.BaseModel = existing.BaseModel
		p.UpdatedAt = time.Now()
		*existing = *p
		return nil
	}
	stamp(&p.BaseModel)
	c.Participants = append(c.Participants, *p)
	return nil
}

// ---- messages ----

type MemoryMessageRepository struct {
	mu       sync.Mutex
	messages []models.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{}
}

func (r *MemoryMessageRepository) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamp(&m.BaseModel)
	r.messages = append(r.messages, *m)
	return nil
}

func (r *MemoryMessageRepository) GetByID(_ context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, models.ErrMessageNotFound
}

func between(m models.Message, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

func (r *MemoryMessageRepository) ListFor(_ context.Context, userID, withUserID string) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for _, m := range r.messages {
		if withUserID != "" {
			if between(m, userID, withUserID) {
				out = append(out, m)
			}
		} else if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryMessageRepository) ListSince(_ context.Context, userID string, since time.Time) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if (m.ReceiverID == userID || m.SenderID == userID) && m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryMessageRepository) Partners(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, m := range r.messages {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		other := m.Counterpart(userID)
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out, nil
}

func (r *MemoryMessageRepository) LatestBetween(_ context.Context, a, b string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if m := r.messages[i]; between(m, a, b) {
			return &m, nil
		}
	}
	return nil, models.ErrMessageNotFound
}

func (r *MemoryMessageRepository) CountUnread(_ context.Context, fromID, toID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages {
		if m.SenderID == fromID && m.ReceiverID == toID && m.Status == models.MessageStatusSent {
			n++
		}
	}
	return n, nil
}

func (r *MemoryMessageRepository) MarkRead(_ context.Context, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range r.messages {
		m := &r.messages[i]
		if _, ok := want[m.ID]; ok && m.Status == models.MessageStatusSent {
			readAt := at
			m.Status = models.MessageStatusRead
			m.ReadAt = &readAt
		}
	}
	return nil
}

// ---- documents ----

type MemoryDocumentRepository struct {
	mu   sync.Mutex
	docs []models.AppointmentDocument
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{}
}

func (r *MemoryDocumentRepository) Create(_ context.Context, d *models.AppointmentDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamp(&d.BaseModel)
	stored := *d
	stored.FileData = append([]byte(nil), d.FileData...)
	r.docs = append(r.docs, stored)
	return nil
}

func (r *MemoryDocumentRepository) GetByID(_ context.Context, id string) (*models.AppointmentDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.ID == id {
			d.FileData = append([]byte(nil), d.FileData...)
			return &d, nil
		}
	}
	return nil, models.ErrDocumentNotFound
}

func (r *MemoryDocumentRepository) ListByAppointment(_ context.Context, appointmentID string) ([]models.AppointmentDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AppointmentDocument
	for _, d := range r.docs {
		if d.AppointmentID == appointmentID {
			d.FileData = nil
			out = append(out, d)
		}
	}
	return out, nil
}

var (
	_ UserRepository         = (*MemoryUserRepository)(nil)
	_ RefreshTokenRepository = (*MemoryRefreshTokenRepository)(nil)
	_ AppointmentRepository  = (*MemoryAppointmentRepository)(nil)
	_ ConsultationRepository = (*MemoryConsultationRepository)(nil)
	_ MessageRepository      = (*MemoryMessageRepository)(nil)
	_ DocumentRepository     = (*MemoryDocumentRepository)(nil)
)

// Repositories exposes the bundle through the service-facing contracts.
func (m *Memory) Repositories() Repositories {
	return Repositories{
		Users:         m.Users,
		Tokens:        m.Tokens,
		Appointments:  m.Appointments,
		Consultations: m.Consultations,
		Messages:      m.Messages,
		Documents:     m.Documents,
	}
}
