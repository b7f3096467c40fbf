// Package rooms is the persistence and validation collaborator for room
// lifecycle: metadata, room codes, participant registry, chat and profile
// names. The hub never mutates room state except through this interface.
package rooms

import (
	"context"
	"errors"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrBadRoomCode  = errors.New("invalid room code")
)

// Participant status fields understood by SetParticipantStatus.
const (
	FieldMuted       = "muted"
	FieldScreenShare = "screen_share"
	FieldVideo       = "video"
)

const (
	defaultMaxParticipants = 10
	roomCodeLength         = 6
)

// Store is the room collaborator. Per-room mutations are serialized by the
// implementation; callers may invoke it concurrently for different rooms.
type Store interface {
	CreateRoom(ctx context.Context, req models.CreateRoomRequest, creatorID string) (*models.Room, error)
	// GetRoom resolves by room id, or by room code when the identifier has
	// the code length.
	GetRoom(ctx context.Context, idOrCode string) (*models.Room, error)
	// DeleteRoom removes the room and all dependent records. Idempotent.
	DeleteRoom(ctx context.Context, roomID string) error

	// Join validates capacity and room code and registers the participant.
	// On success it returns the room and the full current roster, which
	// includes the joiner.
	Join(ctx context.Context, roomID, roomCode, userID, userName, connectionID string) (*models.Room, []models.Participant, error)
	// Leave deregisters the participant. Leaving a room the user never
	// joined is a no-op.
	Leave(ctx context.Context, roomID, userID string) error
	Participants(ctx context.Context, roomID string) ([]models.Participant, error)
	ParticipantCount(ctx context.Context, roomID string) (int, error)
	SetParticipantStatus(ctx context.Context, roomID, userID, field string, enabled bool) error

	SaveChatMessage(ctx context.Context, roomID, userID, text string) (*models.ChatMessage, error)

	SetUserName(ctx context.Context, userID, name string) error
	UserName(ctx context.Context, userID string) (string, error)
}
