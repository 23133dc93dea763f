package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/repository"
)

// DocumentService stores files attached to appointments. Access follows the
// appointment: whoever may see the appointment may see its documents.
type DocumentService struct {
	documents    repository.DocumentRepository
	appointments repository.AppointmentRepository
	maxBytes     int64
	deps         Deps
}

func NewDocumentService(repos repository.Repositories, maxBytes int64, deps Deps) *DocumentService {
	return &DocumentService{
		documents:    repos.Documents,
		appointments: repos.Appointments,
		maxBytes:     maxBytes,
		deps:         deps.withDefaults(),
	}
}

type UploadInput struct {
	FileName string
	FileType string
	Data     []byte
}

func (s *DocumentService) Upload(ctx context.Context, caller models.Caller, appointmentID string, in UploadInput) (*models.AppointmentDocument, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(caller, appt) {
		return nil, models.ErrForbidden
	}

	name := filepath.Base(strings.TrimSpace(in.FileName))
	var fields []string
	if name == "" || name == "." || name == string(filepath.Separator) {
		fields = append(fields, "file name is required")
	}
	if len(in.Data) == 0 {
		fields = append(fields, "file is empty")
	}
	if s.maxBytes > 0 && int64(len(in.Data)) > s.maxBytes {
		fields = append(fields, fmt.Sprintf("file exceeds the %d byte limit", s.maxBytes))
	}
	if len(fields) > 0 {
		return nil, invalid(fields...)
	}
	fileType := in.FileType
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	doc := &models.AppointmentDocument{
		AppointmentID: appt.ID,
		UploadedBy:    caller.ID,
		FileName:      name,
		FileType:      fileType,
		Size:          int64(len(in.Data)),
		FileData:      in.Data,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		s.deps.Log.Error("failed to store document", zap.String("appointment_id", appt.ID), zap.Error(err))
		return nil, fmt.Errorf("storing document: %w", err)
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, caller models.Caller, appointmentID string) ([]models.AppointmentDocument, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(caller, appt) {
		return nil, models.ErrForbidden
	}
	return s.documents.ListByAppointment(ctx, appointmentID)
}

// Get returns the document including its content.
func (s *DocumentService) Get(ctx context.Context, caller models.Caller, id string) (*models.AppointmentDocument, error) {
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	appt, err := s.appointments.GetByID(ctx, doc.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccessAppointment(caller, appt) {
		return nil, models.ErrForbidden
	}
	return doc, nil
}
