package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/scheduling"
	"telecare-server/internal/services"
	"telecare-server/internal/utils"
)

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	appointments *services.AppointmentService
	slots        *services.SlotService
	providers    *services.ProviderResolver
	log          *zap.Logger
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(appointments *services.AppointmentService, slots *services.SlotService, providers *services.ProviderResolver, log *zap.Logger) *AppointmentHandler {
	return &AppointmentHandler{appointments: appointments, slots: slots, providers: providers, log: log}
}

// AvailableSlotsResponse lists the free windows of one provider on one day.
type AvailableSlotsResponse struct {
	Date       string                `json:"date"`
	ProviderID string                `json:"providerId"`
	Slots      []scheduling.Interval `json:"slots"`
}

// GetAvailableSlots answers GET /appointments/available-slots?date=YYYY-MM-DD[&providerId=].
func (h *AppointmentHandler) GetAvailableSlots(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		utils.BadRequest(c, "date query parameter is required (YYYY-MM-DD)")
		return
	}
	if _, err := h.slots.ParseDay(date); err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	ctx := c.Request.Context()
	provider, err := h.providers.Resolve(ctx, c.Query("providerId"))
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	free, err := h.slots.GetAvailableSlots(ctx, date, provider.ID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	if free == nil {
		free = []scheduling.Interval{}
	}
	utils.Success(c, "Available slots fetched successfully", AvailableSlotsResponse{
		Date:       date,
		ProviderID: provider.ID,
		Slots:      free,
	})
}

// CreateAppointmentRequest represents the request body for creating an appointment.
// PatientID defaults to the caller; ProviderID defaults to the configured provider.
type CreateAppointmentRequest struct {
	PatientID       string                 `json:"patientId" binding:"omitempty,uuid"`
	ProviderID      string                 `json:"providerId" binding:"omitempty,uuid"`
	AppointmentType models.AppointmentType `json:"appointmentType" binding:"required"`
	StartTime       time.Time              `json:"startTime" binding:"required"`
	EndTime         time.Time              `json:"endTime" binding:"required"`
	Reason          string                 `json:"reason" binding:"required"`
	Notes           string                 `json:"notes"`
	IsVirtual       bool                   `json:"isVirtual"`
}

// CreateAppointment books an appointment after resolving the provider.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req CreateAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	ctx := c.Request.Context()
	provider, err := h.providers.Resolve(ctx, req.ProviderID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	appt, err := h.appointments.Create(ctx, who, services.CreateAppointmentInput{
		PatientID:  req.PatientID,
		ProviderID: provider.ID,
		Type:       req.AppointmentType,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Reason:     req.Reason,
		Notes:      req.Notes,
		IsVirtual:  req.IsVirtual,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Created(c, "Appointment created successfully", appt)
}

// ListAppointments handles GET /appointments. Patients only ever see their own.
func (h *AppointmentHandler) ListAppointments(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	filter := models.AppointmentFilter{
		PatientID: c.Query("patientId"),
		AdminID:   c.Query("providerId"),
		Status:    models.AppointmentStatus(c.Query("status")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		utils.BadRequest(c, "Invalid status filter")
		return
	}
	if filter.From, ok = queryTime(c, "from"); !ok {
		return
	}
	if filter.To, ok = queryTime(c, "to"); !ok {
		return
	}
	if filter.Page, ok = queryInt(c, "page", 1); !ok {
		return
	}
	if filter.PageSize, ok = queryInt(c, "pageSize", 20); !ok {
		return
	}

	page, err := h.appointments.List(c.Request.Context(), who, filter)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Appointments fetched successfully", page)
}

// GetAppointmentByID handles fetching a single appointment by its ID.
// Accessible by the owning patient, the assigned provider, or staff.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	appt, err := h.appointments.Get(c.Request.Context(), who, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Appointment fetched successfully", appt)
}

// UpdateAppointmentRequest is a partial update; omitted fields are unchanged.
type UpdateAppointmentRequest struct {
	AppointmentType *models.AppointmentType   `json:"appointmentType"`
	Status          *models.AppointmentStatus `json:"status"`
	StartTime       *time.Time                `json:"startTime"`
	EndTime         *time.Time                `json:"endTime"`
	Reason          *string                   `json:"reason"`
	Notes           *string                   `json:"notes"`
	IsVirtual       *bool                     `json:"isVirtual"`
	MeetingLink     *string                   `json:"meetingLink"`
	ProviderID      *string                   `json:"providerId" binding:"omitempty,uuid"`
}

// UpdateAppointment handles PATCH /appointments/:id.
func (h *AppointmentHandler) UpdateAppointment(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req UpdateAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	appt, err := h.appointments.Update(c.Request.Context(), who, id, services.AppointmentPatch{
		Type:        req.AppointmentType,
		Status:      req.Status,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Reason:      req.Reason,
		Notes:       req.Notes,
		IsVirtual:   req.IsVirtual,
		MeetingLink: req.MeetingLink,
		AdminID:     req.ProviderID,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Appointment updated successfully", appt)
}

// CancelAppointmentRequest carries an optional reason.
type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

// CancelAppointment handles POST /appointments/:id/cancel.
func (h *AppointmentHandler) CancelAppointment(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req CancelAppointmentRequest
	if c.Request.ContentLength > 0 && !utils.BindAndValidate(c, &req) {
		return
	}

	appt, err := h.appointments.Cancel(c.Request.Context(), who, id, req.Reason)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Appointment cancelled successfully", appt)
}
