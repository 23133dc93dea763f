package models

import (
	"fmt"
	"time"
)

// ConsultationStatus is the state of a virtual consultation session.
//
//	scheduled → active → completed
//	scheduled → cancelled
type ConsultationStatus string

const (
	ConsultationScheduled ConsultationStatus = "scheduled"
	ConsultationActive    ConsultationStatus = "active"
	ConsultationCompleted ConsultationStatus = "completed"
	ConsultationCancelled ConsultationStatus = "cancelled"
)

func (s ConsultationStatus) IsTerminal() bool {
	return s == ConsultationCompleted || s == ConsultationCancelled
}

var consultationTransitions = map[ConsultationStatus][]ConsultationStatus{
	ConsultationScheduled: {ConsultationActive, ConsultationCancelled},
	ConsultationActive:    {ConsultationCompleted},
}

// CanTransition reports whether from → to is an edge of the state machine.
func (s ConsultationStatus) CanTransition(to ConsultationStatus) bool {
	for _, next := range consultationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParticipantRole is the part a user plays in one consultation.
type ParticipantRole string

const (
	ParticipantPatient      ParticipantRole = "patient"
	ParticipantPractitioner ParticipantRole = "practitioner"
	ParticipantAdmin        ParticipantRole = "admin"
)

type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

// Consultation is the virtual session spawned from one appointment.
type Consultation struct {
	BaseModel
	RoomID             string               `gorm:"size:100;uniqueIndex;not null" json:"roomId"`
	AppointmentID      string               `gorm:"size:36;uniqueIndex;not null" json:"appointmentId"`
	PatientID          string               `gorm:"size:36;index;not null" json:"patientId"`
	PractitionerID     string               `gorm:"size:36;index;not null" json:"practitionerId"`
	Status             ConsultationStatus   `gorm:"size:20;not null;default:'scheduled'" json:"status"`
	StartTime          time.Time            `json:"startTime"`
	EndTime            time.Time            `json:"endTime"`
	ActualStartTime    *time.Time           `json:"actualStartTime,omitempty"`
	ActualEndTime      *time.Time           `json:"actualEndTime,omitempty"`
	Duration           int                  `json:"duration"` // minutes
	Notes              string               `gorm:"type:text" json:"notes,omitempty"`
	PatientNotes       string               `gorm:"type:text" json:"patientNotes,omitempty"`
	PractitionerNotes  string               `gorm:"type:text" json:"practitionerNotes,omitempty"`
	CancelledAt        *time.Time           `json:"cancelledAt,omitempty"`
	CancellationReason string               `gorm:"size:500" json:"cancellationReason,omitempty"`
	Feedback           ConsultationFeedback `gorm:"embedded;embeddedPrefix:feedback_" json:"feedback"`

	Participants []ConsultationParticipant `gorm:"foreignKey:ConsultationID" json:"participants"`
}

// ConsultationFeedback holds one rating per side plus a shared technical rating.
type ConsultationFeedback struct {
	PatientRating        *int   `json:"patientRating,omitempty"`
	PatientFeedback      string `gorm:"type:text" json:"patientFeedback,omitempty"`
	PractitionerRating   *int   `json:"practitionerRating,omitempty"`
	PractitionerFeedback string `gorm:"type:text" json:"practitionerFeedback,omitempty"`
	TechnicalRating      *int   `json:"technicalRating,omitempty"`
}

// ConsultationParticipant tracks one user's presence in the session.
type ConsultationParticipant struct {
	BaseModel
	ConsultationID   string           `gorm:"size:36;not null;uniqueIndex:idx_participant_user,priority:1" json:"consultationId"`
	UserID           string           `gorm:"size:36;not null;uniqueIndex:idx_participant_user,priority:2" json:"userId"`
	Role             ParticipantRole  `gorm:"size:20" json:"role"`
	JoinedAt         *time.Time       `json:"joinedAt,omitempty"`
	LeftAt           *time.Time       `json:"leftAt,omitempty"`
	ConnectionStatus ConnectionStatus `gorm:"size:20" json:"connectionStatus"`
}

// NewRoomID derives the signaling room id from the consultation id and its
// creation instant.
func NewRoomID(consultationID string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%d", consultationID, createdAt.UnixMilli())
}

// RoleOf returns the part userID plays, or false if they are neither
// the patient nor the practitioner.
func (c *Consultation) RoleOf(userID string) (ParticipantRole, bool) {
	switch userID {
	case c.PatientID:
		return ParticipantPatient, true
	case c.PractitionerID:
		return ParticipantPractitioner, true
	}
	return "", false
}

// Participant returns the participant entry for userID, if any.
func (c *Consultation) Participant(userID string) (*ConsultationParticipant, bool) {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

// ElapsedMinutes is the whole minutes between actual start and end, never negative.
func ElapsedMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
