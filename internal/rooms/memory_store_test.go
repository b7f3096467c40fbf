package rooms

import (
	"context"
	"errors"
	"testing"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

func newTestRoom(t *testing.T, store Store, req models.CreateRoomRequest) *models.Room {
	t.Helper()
	room, err := store.CreateRoom(context.Background(), req, "creator")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func TestCreateAndLookupByCode(t *testing.T) {
	store := NewMemoryStore()
	room := newTestRoom(t, store, models.CreateRoomRequest{RoomName: "Study Group"})

	if len(room.Code) != roomCodeLength {
		t.Fatalf("code length = %d, want %d", len(room.Code), roomCodeLength)
	}

	byCode, err := store.GetRoom(context.Background(), room.Code)
	if err != nil {
		t.Fatalf("GetRoom by code: %v", err)
	}
	if byCode.RoomID != room.RoomID {
		t.Fatalf("code resolved to %s, want %s", byCode.RoomID, room.RoomID)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetRoom(context.Background(), "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestDeleteRoomIdempotent(t *testing.T) {
	store := NewMemoryStore()
	room := newTestRoom(t, store, models.CreateRoomRequest{RoomName: "Study Group"})
	ctx := context.Background()

	if err := store.DeleteRoom(ctx, room.RoomID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.DeleteRoom(ctx, room.RoomID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.GetRoom(ctx, room.RoomID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("room still resolvable after delete: %v", err)
	}
	if _, err := store.GetRoom(ctx, room.Code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("code still resolvable after delete: %v", err)
	}
}

func TestJoinReturnsRosterIncludingJoiner(t *testing.T) {
	store := NewMemoryStore()
	room := newTestRoom(t, store, models.CreateRoomRequest{RoomName: "Study Group"})
	ctx := context.Background()

	_, roster, err := store.Join(ctx, room.RoomID, "", "alice", "Alice", "conn-1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "alice" {
		t.Fatalf("roster = %+v, want just alice", roster)
	}

	_, roster, err = store.Join(ctx, room.RoomID, "", "bob", "Bob", "conn-2")
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}
}

func TestJoinEnforcesCapacity(t *testing.T) {
	store := NewMemoryStore()
	room := newTestRoom(t, store, models.CreateRoomRequest{RoomName: "Pair", MaxParticipants: 2})
	ctx := context.Background()

	if _, _, err := store.Join(ctx, room.RoomID, "", "alice", "Alice", "c1"); err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	if _, _, err := store.Join(ctx, room.RoomID, "", "bob", "Bob", "c2"); err != nil {
		t.Fatalf("Join bob: %v", err)
	}
	if _, _, err := store.Join(ctx, room.RoomID, "", "carol", "Carol", "c3"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("err = %v, want ErrRoomFull", err)
	}

	// Rejoining an occupant does not count against capacity.
	if _, _, err := store.Join(ctx, room.RoomID, "", "alice", "Alice", "c4"); err != nil {
		t.Fatalf("rejoin alice: %v", err)
	}
}

func TestJoinInviteOnlyRequiresCode(t *testing.T) {
	store := NewMemoryStore()
	room := newTestRoom(t, store, models.CreateRoomRequest{
		RoomName: "Private",
		Privacy:  models.PrivacyInviteOnly,
	})
	ctx := context.Background()

	if _, _, err := store.Join(ctx, room.RoomID, "WRONG1", "alice", "Alice", "c1"); !errors.Is(err, ErrBadRoomCode) {
		t.Fatalf("err = %v, want ErrBadRoomCode", err)
	}
	if _, _, err := store.Join(ctx, room.RoomID, room.Code, "alice", "Alice", "c1"); err != nil {
		t.Fatalf("Join with correct code: %v", err)
	}
}

func TestLeaveNeverJoinedIsNoop(t *testing.T) {
	store := NewMemoryStore()
	room := newTestRoom(t, store, models.CreateRoomRequest{RoomName: "Study Group"})
	ctx := context.Background()

	if err := store.Leave(ctx, room.RoomID, "ghost"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := store.Leave(ctx, "missing-room", "ghost"); err != nil {
		t.Fatalf("Leave missing room: %v", err)
	}
}

func TestSetParticipantStatus(t *testing.T) {
	store := NewMemoryStore()
	room := newTestRoom(t, store, models.CreateRoomRequest{RoomName: "Study Group"})
	ctx := context.Background()

	if _, _, err := store.Join(ctx, room.RoomID, "", "alice", "Alice", "c1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := store.SetParticipantStatus(ctx, room.RoomID, "alice", FieldMuted, true); err != nil {
		t.Fatalf("SetParticipantStatus: %v", err)
	}
	if err := store.SetParticipantStatus(ctx, room.RoomID, "alice", FieldVideo, false); err != nil {
		t.Fatalf("SetParticipantStatus: %v", err)
	}

	roster, err := store.Participants(ctx, room.RoomID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if !roster[0].IsMuted {
		t.Fatal("IsMuted not updated")
	}
	if roster[0].IsVideoEnabled {
		t.Fatal("IsVideoEnabled not updated")
	}
}

func TestChatPersistsWithDisplayName(t *testing.T) {
	store := NewMemoryStore()
	room := newTestRoom(t, store, models.CreateRoomRequest{RoomName: "Study Group"})
	ctx := context.Background()

	if err := store.SetUserName(ctx, "alice", "Alice"); err != nil {
		t.Fatalf("SetUserName: %v", err)
	}
	msg, err := store.SaveChatMessage(ctx, room.RoomID, "alice", "hello")
	if err != nil {
		t.Fatalf("SaveChatMessage: %v", err)
	}
	if msg.UserName != "Alice" {
		t.Fatalf("UserName = %q, want Alice", msg.UserName)
	}
	if msg.MessageID == "" || msg.Timestamp.IsZero() {
		t.Fatalf("message not fully populated: %+v", msg)
	}

	name, err := store.UserName(ctx, "stranger")
	if err != nil {
		t.Fatalf("UserName: %v", err)
	}
	if name != "User" {
		t.Fatalf("fallback name = %q, want User", name)
	}
}
