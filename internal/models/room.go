package models

import "time"

// Room privacy modes.
const (
	PrivacyPublic     = "public"
	PrivacyScoped     = "scoped"
	PrivacyInviteOnly = "invite_only"
)

// Room lifecycle states.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusEnded     = "ended"
)

// Room stores metadata about a signaling room.
type Room struct {
	RoomID          string    `json:"roomId"`
	RoomName        string    `json:"roomName"`
	Code            string    `json:"code,omitempty"` // Short, shareable room code (e.g., "ABCD23")
	CreatorID       string    `json:"creatorId"`
	CreatedAt       time.Time `json:"createdAt"`
	Privacy         string    `json:"privacy"`
	MaxParticipants int       `json:"maxParticipants"`
	Status          string    `json:"status"`
}

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	RoomName        string `json:"roomName" binding:"required"`
	Privacy         string `json:"privacy,omitempty"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
}

// CreateRoomResponse is the response for creating a room.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// JoinRoomRequest is the payload of a join_room frame.
type JoinRoomRequest struct {
	RoomID   string `json:"roomId"`
	RoomCode string `json:"roomCode,omitempty"` // For invite-only rooms
}

// JoinRoomResponse is returned to the joiner. Participants includes the
// joiner itself.
type JoinRoomResponse struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message,omitempty"`
	Room         *Room         `json:"room,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

// LeaveRoomRequest is the payload of a leave_room frame.
type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}
