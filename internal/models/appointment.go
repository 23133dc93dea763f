package models

import (
	"time"

	"telecare-server/internal/scheduling"
)

// AppointmentType is the kind of visit being booked.
type AppointmentType string

const (
	TypeConsultation        AppointmentType = "consultation"
	TypeFitting             AppointmentType = "fitting"
	TypeFollowUp            AppointmentType = "follow-up"
	TypeAdjustment          AppointmentType = "adjustment"
	TypeEmergency           AppointmentType = "emergency"
	TypeVirtualConsultation AppointmentType = "virtual-consultation"
)

func (t AppointmentType) IsValid() bool {
	switch t {
	case TypeConsultation, TypeFitting, TypeFollowUp, TypeAdjustment, TypeEmergency, TypeVirtualConsultation:
		return true
	}
	return false
}

// AppointmentStatus represents the status of an appointment.
//
//	scheduled → in-progress → completed
//	scheduled → cancelled | no-show
type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no-show"
)

func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsTerminal reports whether no further lifecycle change is expected.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Appointment represents a booked visit between a patient and a provider.
// AdminID is the assigned staff member responsible for the visit.
type Appointment struct {
	BaseModel
	PatientID          string            `gorm:"size:36;not null;index:idx_appointments_patient_window,priority:1" json:"patientId"`
	AdminID            string            `gorm:"size:36;not null;index:idx_appointments_admin_window,priority:1" json:"adminId"`
	AppointmentType    AppointmentType   `gorm:"size:32;not null" json:"appointmentType"`
	Status             AppointmentStatus `gorm:"size:20;not null;default:'scheduled';index" json:"status"`
	StartTime          time.Time         `gorm:"not null;index:idx_appointments_admin_window,priority:2;index:idx_appointments_patient_window,priority:2" json:"startTime"`
	EndTime            time.Time         `gorm:"not null" json:"endTime"`
	Reason             string            `gorm:"size:500;not null" json:"reason"`
	Notes              string            `gorm:"type:text" json:"notes,omitempty"`
	IsVirtual          bool              `gorm:"default:false" json:"isVirtual"`
	MeetingLink        string            `gorm:"size:500" json:"meetingLink,omitempty"`
	CancelledAt        *time.Time        `json:"cancelledAt,omitempty"`
	CancellationReason string            `gorm:"size:500" json:"cancellationReason,omitempty"`
	CancelledBy        string            `gorm:"size:36" json:"cancelledBy,omitempty"`

	Documents []AppointmentDocument `gorm:"foreignKey:AppointmentID" json:"documents,omitempty"`
}

// Window is the appointment's half-open time interval.
func (a *Appointment) Window() scheduling.Interval {
	return scheduling.Interval{StartTime: a.StartTime, EndTime: a.EndTime}
}

// OccupiesTime reports whether the appointment takes part in overlap and
// slot-occupancy calculations. Only cancellation frees the window.
func (a *Appointment) OccupiesTime() bool {
	return a.Status != StatusCancelled
}

// IsOwnedBy reports whether userID is the appointment's patient.
func (a *Appointment) IsOwnedBy(userID string) bool {
	return a.PatientID == userID
}

// AppointmentFilter narrows appointment listings.
type AppointmentFilter struct {
	PatientID string
	AdminID   string
	Status    AppointmentStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// AppointmentPage is one page of a listing.
type AppointmentPage struct {
	Appointments []Appointment `json:"appointments"`
	Total        int64         `json:"total"`
	Page         int           `json:"page"`
	PageSize     int           `json:"pageSize"`
}
