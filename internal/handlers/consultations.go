package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/services"
	"telecare-server/internal/utils"
)

// ConsultationHandler exposes the video consultation lifecycle.
type ConsultationHandler struct {
	consultations *services.ConsultationService
	log           *zap.Logger
}

func NewConsultationHandler(consultations *services.ConsultationService, log *zap.Logger) *ConsultationHandler {
	return &ConsultationHandler{consultations: consultations, log: log}
}

type CreateConsultationRequest struct {
	AppointmentID string `json:"appointmentId" binding:"required,uuid"`
}

// CreateConsultation answers 201 for a new consultation and 200 when the
// appointment already had one.
func (h *ConsultationHandler) CreateConsultation(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req CreateConsultationRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	cons, created, err := h.consultations.Create(c.Request.Context(), who, req.AppointmentID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	if created {
		utils.Created(c, "Consultation created successfully", cons)
		return
	}
	utils.Success(c, "Consultation already exists", cons)
}

func (h *ConsultationHandler) GetConsultation(c *gin.Context) {
	h.withID(c, "Consultation fetched successfully", h.consultations.Get)
}

func (h *ConsultationHandler) GetByAppointment(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	appointmentID, ok := pathID(c, "appointmentId")
	if !ok {
		return
	}

	cons, err := h.consultations.GetByAppointment(c.Request.Context(), who, appointmentID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	utils.Success(c, "Consultation fetched successfully", cons)
}

func (h *ConsultationHandler) StartConsultation(c *gin.Context) {
	h.withID(c, "Consultation started successfully", h.consultations.Start)
}

func (h *ConsultationHandler) JoinConsultation(c *gin.Context) {
	h.withID(c, "Joined consultation successfully", h.consultations.Join)
}

func (h *ConsultationHandler) LeaveConsultation(c *gin.Context) {
	h.withID(c, "Left consultation successfully", h.consultations.Leave)
}

type EndConsultationRequest struct {
	Notes string `json:"notes"`
}

func (h *ConsultationHandler) EndConsultation(c *gin.Context) {
	var req EndConsultationRequest
	if c.Request.ContentLength > 0 && !utils.BindAndValidate(c, &req) {
		return
	}
	h.withID(c, "Consultation ended successfully", func(ctx context.Context, who models.Caller, id string) (*models.Consultation, error) {
		return h.consultations.End(ctx, who, id, req.Notes)
	})
}

type CancelConsultationRequest struct {
	Reason string `json:"reason"`
}

func (h *ConsultationHandler) CancelConsultation(c *gin.Context) {
	var req CancelConsultationRequest
	if c.Request.ContentLength > 0 && !utils.BindAndValidate(c, &req) {
		return
	}
	h.withID(c, "Consultation cancelled successfully", func(ctx context.Context, who models.Caller, id string) (*models.Consultation, error) {
		return h.consultations.Cancel(ctx, who, id, req.Reason)
	})
}

// AddNotesRequest: type is one of general, patient, practitioner, or empty
// to file the notes under the caller's own role.
type AddNotesRequest struct {
	Notes string `json:"notes" binding:"required"`
	Type  string `json:"type" binding:"omitempty,oneof=general patient practitioner"`
}

func (h *ConsultationHandler) AddNotes(c *gin.Context) {
	var req AddNotesRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	h.withID(c, "Notes saved successfully", func(ctx context.Context, who models.Caller, id string) (*models.Consultation, error) {
		return h.consultations.AddNotes(ctx, who, id, req.Notes, req.Type)
	})
}

type FeedbackRequest struct {
	Rating          int    `json:"rating" binding:"required,min=1,max=5"`
	Feedback        string `json:"feedback" binding:"max=2000"`
	TechnicalRating *int   `json:"technicalRating" binding:"omitempty,min=1,max=5"`
}

func (h *ConsultationHandler) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	h.withID(c, "Feedback submitted successfully", func(ctx context.Context, who models.Caller, id string) (*models.Consultation, error) {
		return h.consultations.SubmitFeedback(ctx, who, id, services.FeedbackInput{
			Rating:          req.Rating,
			Feedback:        req.Feedback,
			TechnicalRating: req.TechnicalRating,
		})
	})
}

type consultationOp func(ctx context.Context, who models.Caller, id string) (*models.Consultation, error)

// withID runs op against the :id consultation on behalf of the caller.
func (h *ConsultationHandler) withID(c *gin.Context, message string, op consultationOp) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	cons, err := op(c.Request.Context(), who, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	utils.Success(c, message, cons)
}
