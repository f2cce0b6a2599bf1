package domain

// RoomID identifies a consult room binding exactly one doctor and one
// patient. Room ids are minted by the portal backend.
type RoomID string

// Role is the local participant's role within a room. Roles are
// asymmetric: only a doctor originates calls, only a patient answers.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}
