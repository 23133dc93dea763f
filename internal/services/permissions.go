package services

import "telecare-server/internal/models"

// Permission predicates. Each is checked at the entry of the operation it
// guards, before any state is read for mutation.

// canBookFor: patients book only for themselves; staff and admins for anyone.
func canBookFor(c models.Caller, patientID string) bool {
	return c.Role.IsPrivileged() || c.ID == patientID
}

// canAccessAppointment covers view, update, cancel and document access.
func canAccessAppointment(c models.Caller, a *models.Appointment) bool {
	return c.Role.IsPrivileged() || a.IsOwnedBy(c.ID) || a.AdminID == c.ID
}

// canReassignProvider restricts moving an appointment to another provider.
func canReassignProvider(c models.Caller) bool {
	return c.Role.IsPrivileged()
}

// canCreateConsultation: the appointment's patient, its provider, or an admin.
func canCreateConsultation(c models.Caller, a *models.Appointment) bool {
	return c.Role == models.RoleAdmin || a.PatientID == c.ID || a.AdminID == c.ID
}

// canParticipate: the consultation's patient, its practitioner, or an admin.
// Used by get, start, join, leave and notes.
func canParticipate(c models.Caller, cons *models.Consultation) bool {
	if c.Role == models.RoleAdmin {
		return true
	}
	_, ok := cons.RoleOf(c.ID)
	return ok
}

// canConclude: only the practitioner or an admin may end or cancel a session.
func canConclude(c models.Caller, cons *models.Consultation) bool {
	return c.Role == models.RoleAdmin || cons.PractitionerID == c.ID
}

// canRate: only the two designated participants, never an unrelated admin.
func canRate(c models.Caller, cons *models.Consultation) (models.ParticipantRole, bool) {
	return cons.RoleOf(c.ID)
}

// participantRole is the role recorded when c joins cons.
func participantRole(c models.Caller, cons *models.Consultation) models.ParticipantRole {
	if r, ok := cons.RoleOf(c.ID); ok {
		return r
	}
	return models.ParticipantAdmin
}

// canMessage: patients write only to staff or admins; staff and admins write to anyone.
func canMessage(sender models.Caller, receiver *models.User) bool {
	if sender.Role.IsPrivileged() {
		return true
	}
	return receiver.Role.IsPrivileged()
}

func canManageUsers(c models.Caller) bool {
	return c.Role == models.RoleAdmin
}
