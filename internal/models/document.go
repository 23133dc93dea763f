package models

// AppointmentDocument is a file attached to an appointment (referral letters,
// scans, prescriptions brought to a fitting).
type AppointmentDocument struct {
	BaseModel
	AppointmentID string `gorm:"size:36;index;not null" json:"appointmentId"`
	UploadedBy    string `gorm:"size:36;not null" json:"uploadedBy"`
	FileName      string `gorm:"size:255;not null" json:"fileName"`
	FileType      string `gorm:"size:100;not null" json:"fileType"`
	Size          int64  `json:"size"`
	FileData      []byte `gorm:"not null" json:"-"`
}
