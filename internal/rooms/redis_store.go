package rooms

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	roomTTL   = 24 * time.Hour
	chatCap   = 500
	codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// RedisStore keeps room state in Redis:
//
//	room:<id>               room metadata (JSON)
//	code:<code>             room code -> room id
//	room:<id>:participants  hash userID -> participant (JSON)
//	room:<id>:chat          list of chat messages (JSON)
//	profile:<userId>        display name
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) CreateRoom(ctx context.Context, req models.CreateRoomRequest, creatorID string) (*models.Room, error) {
	room := newRoom(req, creatorID)

	data, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, "room:"+room.RoomID, data, roomTTL).Err(); err != nil {
		return nil, fmt.Errorf("store room: %w", err)
	}
	if err := s.rdb.Set(ctx, "code:"+room.Code, room.RoomID, roomTTL).Err(); err != nil {
		return nil, fmt.Errorf("store room code: %w", err)
	}
	return room, nil
}

func (s *RedisStore) GetRoom(ctx context.Context, idOrCode string) (*models.Room, error) {
	roomID := idOrCode
	if len(idOrCode) == roomCodeLength {
		id, err := s.rdb.Get(ctx, "code:"+idOrCode).Result()
		if err != nil {
			return nil, ErrRoomNotFound
		}
		roomID = id
	}

	data, err := s.rdb.Get(ctx, "room:"+roomID).Result()
	if err != nil {
		return nil, ErrRoomNotFound
	}

	var room models.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("parse room data: %w", err)
	}
	return &room, nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		// Already gone.
		return nil
	}
	s.rdb.Del(ctx, "room:"+roomID)
	s.rdb.Del(ctx, "code:"+room.Code)
	s.rdb.Del(ctx, "room:"+roomID+":participants")
	s.rdb.Del(ctx, "room:"+roomID+":chat")
	return nil
}

func (s *RedisStore) Join(ctx context.Context, roomID, roomCode, userID, userName, connectionID string) (*models.Room, []models.Participant, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if room.Privacy == models.PrivacyInviteOnly && room.Code != "" && roomCode != room.Code {
		return nil, nil, ErrBadRoomCode
	}

	partKey := "room:" + room.RoomID + ":participants"
	already, err := s.rdb.HExists(ctx, partKey, userID).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("check membership: %w", err)
	}
	if !already {
		count, err := s.rdb.HLen(ctx, partKey).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("count participants: %w", err)
		}
		if int(count) >= room.MaxParticipants {
			return nil, nil, ErrRoomFull
		}
	}

	now := time.Now().UTC()
	participant := models.Participant{
		UserID:         userID,
		UserName:       userName,
		ConnectionID:   connectionID,
		JoinedAt:       now,
		LastSeen:       now,
		IsActive:       true,
		IsVideoEnabled: true,
	}
	data, err := json.Marshal(participant)
	if err != nil {
		return nil, nil, err
	}
	if err := s.rdb.HSet(ctx, partKey, userID, data).Err(); err != nil {
		return nil, nil, fmt.Errorf("register participant: %w", err)
	}
	s.rdb.Expire(ctx, partKey, roomTTL)

	roster, err := s.Participants(ctx, room.RoomID)
	if err != nil {
		return nil, nil, err
	}
	return room, roster, nil
}

func (s *RedisStore) Leave(ctx context.Context, roomID, userID string) error {
	return s.rdb.HDel(ctx, "room:"+roomID+":participants", userID).Err()
}

func (s *RedisStore) Participants(ctx context.Context, roomID string) ([]models.Participant, error) {
	entries, err := s.rdb.HGetAll(ctx, "room:"+roomID+":participants").Result()
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	roster := make([]models.Participant, 0, len(entries))
	for _, raw := range entries {
		var p models.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		roster = append(roster, p)
	}
	return roster, nil
}

func (s *RedisStore) ParticipantCount(ctx context.Context, roomID string) (int, error) {
	count, err := s.rdb.HLen(ctx, "room:"+roomID+":participants").Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *RedisStore) SetParticipantStatus(ctx context.Context, roomID, userID, field string, enabled bool) error {
	partKey := "room:" + roomID + ":participants"
	raw, err := s.rdb.HGet(ctx, partKey, userID).Result()
	if err != nil {
		// Status toggles for unknown participants are dropped.
		return nil
	}
	var p models.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return err
	}
	applyStatus(&p, field, enabled)
	p.LastSeen = time.Now().UTC()

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, partKey, userID, data).Err()
}

func (s *RedisStore) SaveChatMessage(ctx context.Context, roomID, userID, text string) (*models.ChatMessage, error) {
	name, _ := s.UserName(ctx, userID)
	msg := newChatMessage(roomID, userID, name, text)

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	chatKey := "room:" + roomID + ":chat"
	if err := s.rdb.RPush(ctx, chatKey, data).Err(); err != nil {
		return nil, fmt.Errorf("store chat message: %w", err)
	}
	s.rdb.LTrim(ctx, chatKey, -chatCap, -1)
	s.rdb.Expire(ctx, chatKey, roomTTL)
	return msg, nil
}

func (s *RedisStore) SetUserName(ctx context.Context, userID, name string) error {
	return s.rdb.Set(ctx, "profile:"+userID, name, 0).Err()
}

func (s *RedisStore) UserName(ctx context.Context, userID string) (string, error) {
	name, err := s.rdb.Get(ctx, "profile:"+userID).Result()
	if err != nil || name == "" {
		return "User", nil
	}
	return name, nil
}

func newRoom(req models.CreateRoomRequest, creatorID string) *models.Room {
	privacy := req.Privacy
	if privacy == "" {
		privacy = models.PrivacyPublic
	}
	maxParticipants := req.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = defaultMaxParticipants
	}
	return &models.Room{
		RoomID:          uuid.New().String(),
		RoomName:        req.RoomName,
		Code:            generateRoomCode(),
		CreatorID:       creatorID,
		CreatedAt:       time.Now().UTC(),
		Privacy:         privacy,
		MaxParticipants: maxParticipants,
		Status:          models.StatusActive,
	}
}

func newChatMessage(roomID, userID, userName, text string) *models.ChatMessage {
	return &models.ChatMessage{
		MessageID: uuid.New().String(),
		RoomID:    roomID,
		UserID:    userID,
		UserName:  userName,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// generateRoomCode generates a random room code.
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
