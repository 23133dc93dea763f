package repository

import "gorm.io/gorm"

// NewGorm wires every repository to one gorm connection.
func NewGorm(db *gorm.DB) Repositories {
	return Repositories{
		Users:         NewUserRepository(db),
		Tokens:        NewRefreshTokenRepository(db),
		Appointments:  NewAppointmentRepository(db),
		Consultations: NewConsultationRepository(db),
		Messages:      NewMessageRepository(db),
		Documents:     NewDocumentRepository(db),
	}
}
