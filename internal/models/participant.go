package models

import "time"

// Participant is the public record of a room member. It exists exactly while
// the owning connection is a member of the room; ConnectionID is a
// back-reference used for routing only.
type Participant struct {
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	Role           string    `json:"role,omitempty"`
	ConnectionID   string    `json:"connectionId,omitempty"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastSeen       time.Time `json:"lastSeen"`
	IsActive       bool      `json:"isActive"`
	IsMuted        bool      `json:"isMuted"`
	IsScreenShared bool      `json:"isScreenSharing"`
	IsVideoEnabled bool      `json:"isVideoEnabled"`
}

// ParticipantStatus is broadcast when a member toggles mute/screen/video.
type ParticipantStatus struct {
	UserID  string `json:"userId"`
	Enabled bool   `json:"enabled"`
}
