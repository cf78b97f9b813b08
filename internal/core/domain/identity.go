package domain

// SocketID is the ephemeral connection identifier assigned by the signaling
// server. It changes on every reconnect, so it must never be persisted as a
// stable user reference.
type SocketID string

type UserID int64

type Role string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
)

// Identity is the authenticated user behind a signaling connection.
type Identity struct {
	UserID UserID `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	TeamID *int64 `json:"teamId"`
}
