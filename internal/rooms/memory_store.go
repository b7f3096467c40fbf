package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

// MemoryStore is the in-process Store used for single-node deployments
// without Redis and for tests. Semantics match RedisStore.
type MemoryStore struct {
	mu           sync.RWMutex
	rooms        map[string]*models.Room
	codes        map[string]string
	participants map[string]map[string]models.Participant // roomID -> userID -> record
	chat         map[string][]models.ChatMessage
	names        map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:        make(map[string]*models.Room),
		codes:        make(map[string]string),
		participants: make(map[string]map[string]models.Participant),
		chat:         make(map[string][]models.ChatMessage),
		names:        make(map[string]string),
	}
}

func (s *MemoryStore) CreateRoom(_ context.Context, req models.CreateRoomRequest, creatorID string) (*models.Room, error) {
	room := newRoom(req, creatorID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.RoomID] = room
	s.codes[room.Code] = room.RoomID
	s.participants[room.RoomID] = make(map[string]models.Participant)
	return room, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, idOrCode string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRoomLocked(idOrCode)
}

func (s *MemoryStore) getRoomLocked(idOrCode string) (*models.Room, error) {
	roomID := idOrCode
	if len(idOrCode) == roomCodeLength {
		if id, ok := s.codes[idOrCode]; ok {
			roomID = id
		}
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		// Already gone.
		return nil
	}
	delete(s.rooms, roomID)
	delete(s.codes, room.Code)
	delete(s.participants, roomID)
	delete(s.chat, roomID)
	return nil
}

func (s *MemoryStore) Join(_ context.Context, roomID, roomCode, userID, userName, connectionID string) (*models.Room, []models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.getRoomLocked(roomID)
	if err != nil {
		return nil, nil, err
	}
	if room.Privacy == models.PrivacyInviteOnly && room.Code != "" && roomCode != room.Code {
		return nil, nil, ErrBadRoomCode
	}

	members := s.participants[room.RoomID]
	if members == nil {
		members = make(map[string]models.Participant)
		s.participants[room.RoomID] = members
	}
	if _, already := members[userID]; !already && len(members) >= room.MaxParticipants {
		return nil, nil, ErrRoomFull
	}

	now := time.Now().UTC()
	members[userID] = models.Participant{
		UserID:         userID,
		UserName:       userName,
		ConnectionID:   connectionID,
		JoinedAt:       now,
		LastSeen:       now,
		IsActive:       true,
		IsVideoEnabled: true,
	}

	return room, s.rosterLocked(room.RoomID), nil
}

func (s *MemoryStore) Leave(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants[roomID], userID)
	return nil
}

func (s *MemoryStore) Participants(_ context.Context, roomID string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterLocked(roomID), nil
}

func (s *MemoryStore) rosterLocked(roomID string) []models.Participant {
	members := s.participants[roomID]
	roster := make([]models.Participant, 0, len(members))
	for _, p := range members {
		roster = append(roster, p)
	}
	return roster
}

func (s *MemoryStore) ParticipantCount(_ context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants[roomID]), nil
}

func (s *MemoryStore) SetParticipantStatus(_ context.Context, roomID, userID, field string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.participants[roomID]
	p, ok := members[userID]
	if !ok {
		return nil
	}
	applyStatus(&p, field, enabled)
	p.LastSeen = time.Now().UTC()
	members[userID] = p
	return nil
}

func (s *MemoryStore) SaveChatMessage(ctx context.Context, roomID, userID, text string) (*models.ChatMessage, error) {
	name, _ := s.UserName(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	msg := newChatMessage(roomID, userID, name, text)
	s.chat[roomID] = append(s.chat[roomID], *msg)
	if len(s.chat[roomID]) > chatCap {
		s.chat[roomID] = s.chat[roomID][len(s.chat[roomID])-chatCap:]
	}
	return msg, nil
}

func (s *MemoryStore) SetUserName(_ context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[userID] = name
	return nil
}

func (s *MemoryStore) UserName(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name := s.names[userID]; name != "" {
		return name, nil
	}
	return "User", nil
}

func applyStatus(p *models.Participant, field string, enabled bool) {
	switch field {
	case FieldMuted:
		p.IsMuted = enabled
	case FieldScreenShare:
		p.IsScreenShared = enabled
	case FieldVideo:
		p.IsVideoEnabled = enabled
	}
}
