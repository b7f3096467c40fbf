// Package hub coordinates websocket connections: room groups for broadcast,
// per-user direct channels for call delivery, and the direct-call workflow.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/rooms"
)

// group is the live broadcast membership of one room. It mirrors the
// store's participant registry but holds connections, not records.
type group struct {
	roomID  string
	mu      sync.RWMutex
	members map[string]*Client // keyed by user id
}

func (g *group) add(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[c.UserID] = c
}

func (g *group) remove(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, userID)
}

// broadcast enqueues the frame on every member except excludeUserID.
// Pass an empty exclude to reach the whole group.
func (g *group) broadcast(data []byte, excludeUserID string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for userID, member := range g.members {
		if userID != excludeUserID {
			member.enqueue(data)
		}
	}
}

type Hub struct {
	store rooms.Store
	log   *slog.Logger

	mu      sync.RWMutex
	groups  map[string]*group
	users   map[string]*Client // direct channel per user, newest connection wins
	invites map[string]*models.CallInvitation
}

func New(store rooms.Store, logger *slog.Logger) *Hub {
	return &Hub{
		store:   store,
		log:     logger,
		groups:  make(map[string]*group),
		users:   make(map[string]*Client),
		invites: make(map[string]*models.CallInvitation),
	}
}

// Register attaches an upgraded connection to the hub and starts its pumps.
// It returns once the pumps are running; the connection is torn down when
// readPump exits.
func (h *Hub) Register(conn *websocket.Conn, userID, userName string) *Client {
	client := &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		UserName: userName,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.users[userID] = client
	h.mu.Unlock()

	h.log.Info("client connected",
		slog.String("user_id", userID),
		slog.String("connection_id", client.ID))

	go client.writePump()
	go client.readPump()
	return client
}

// disconnect is the shared teardown path: an unclean drop behaves exactly
// like an explicit leave of the joined room.
func (h *Hub) disconnect(c *Client) {
	if c.roomID != "" {
		h.leaveRoom(c, c.roomID)
	}

	h.mu.Lock()
	if h.users[c.UserID] == c {
		delete(h.users, c.UserID)
	}
	h.mu.Unlock()

	c.closeSend()
	h.log.Info("client disconnected",
		slog.String("user_id", c.UserID),
		slog.String("connection_id", c.ID))
}

func (h *Hub) dispatch(c *Client, msg models.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("handler panic",
				slog.String("type", string(msg.Type)),
				slog.String("user_id", c.UserID),
				slog.Any("panic", r))
			c.sendError("internal error")
		}
	}()

	switch msg.Type {
	case models.TypeJoinRoom:
		h.handleJoinRoom(c, msg.Payload)
	case models.TypeLeaveRoom:
		h.handleLeaveRoom(c, msg.Payload)
	case models.TypeSendOffer:
		h.handleSignal(c, models.SignalOffer, models.TypeReceiveOffer, msg.Payload)
	case models.TypeSendAnswer:
		h.handleSignal(c, models.SignalAnswer, models.TypeReceiveAnswer, msg.Payload)
	case models.TypeSendIceCandidate:
		h.handleSignal(c, models.SignalIceCandidate, models.TypeReceiveIceCandidate, msg.Payload)
	case models.TypeSendChatMessage:
		h.handleChat(c, msg.Payload)
	case models.TypeToggleMute:
		h.handleToggle(c, rooms.FieldMuted, models.TypeMuteChanged, msg.Payload)
	case models.TypeToggleScreen:
		h.handleToggle(c, rooms.FieldScreenShare, models.TypeScreenShareChanged, msg.Payload)
	case models.TypeToggleVideo:
		h.handleToggle(c, rooms.FieldVideo, models.TypeVideoChanged, msg.Payload)
	case models.TypeInitiateCall:
		h.handleInitiateCall(c, msg.Payload)
	case models.TypeRespondToCall:
		h.handleRespondToCall(c, msg.Payload)
	case models.TypeCancelCall:
		h.handleCancelCall(c, msg.Payload)
	default:
		h.log.Warn("unknown message type", slog.String("type", string(msg.Type)))
	}
}

func (h *Hub) group(roomID string) *group {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[roomID]
	if !ok {
		g = &group{roomID: roomID, members: make(map[string]*Client)}
		h.groups[roomID] = g
	}
	return g
}

func (h *Hub) lookupGroup(roomID string) *group {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.groups[roomID]
}

func (h *Hub) dropGroup(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups, roomID)
}

// direct returns the user's most recent connection, nil when offline.
func (h *Hub) direct(userID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

// Online reports whether the user has a live direct channel.
func (h *Hub) Online(userID string) bool {
	return h.direct(userID) != nil
}

func encode(t models.MessageType, payload any) ([]byte, error) {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func (h *Hub) handleJoinRoom(c *Client, payload json.RawMessage) {
	var req models.JoinRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid join_room payload")
		return
	}

	ctx := context.Background()
	room, roster, err := h.store.Join(ctx, req.RoomID, req.RoomCode, c.UserID, c.UserName, c.ID)
	if err != nil {
		resp := models.JoinRoomResponse{Success: false, Message: joinFailureMessage(err)}
		c.sendMessage(models.TypeJoinResponse, resp)
		return
	}

	// Leaving an earlier room implicitly; one room per connection.
	if c.roomID != "" && c.roomID != room.RoomID {
		h.leaveRoom(c, c.roomID)
	}
	c.roomID = room.RoomID

	// Register the joiner before anyone is told about them.
	g := h.group(room.RoomID)
	g.add(c)

	var self *models.Participant
	for i := range roster {
		if roster[i].UserID == c.UserID {
			self = &roster[i]
			break
		}
	}
	if self != nil {
		if data, err := encode(models.TypeParticipantJoined, self); err == nil {
			g.broadcast(data, c.UserID)
		}
	}

	c.sendMessage(models.TypeJoinResponse, models.JoinRoomResponse{
		Success:      true,
		Room:         room,
		Participants: roster,
	})

	h.log.Info("joined room",
		slog.String("room_id", room.RoomID),
		slog.String("user_id", c.UserID),
		slog.Int("participants", len(roster)))
}

func joinFailureMessage(err error) string {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, rooms.ErrRoomFull):
		return "room is full"
	case errors.Is(err, rooms.ErrBadRoomCode):
		return "invalid room code"
	}
	return "unable to join room"
}

func (h *Hub) handleLeaveRoom(c *Client, payload json.RawMessage) {
	var req models.LeaveRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid leave_room payload")
		return
	}
	if req.RoomID == "" || req.RoomID != c.roomID {
		return
	}
	h.leaveRoom(c, req.RoomID)
}

// leaveRoom deregisters the participant and, when the room empties, notifies
// everyone the room ended before any record is deleted. The departing client
// gets the room_ended frame too, so both orderings of "leave" and "end"
// observe the same final event.
func (h *Hub) leaveRoom(c *Client, roomID string) {
	ctx := context.Background()
	if err := h.store.Leave(ctx, roomID, c.UserID); err != nil {
		h.log.Error("leave room", slog.String("room_id", roomID), slog.Any("error", err))
	}

	g := h.lookupGroup(roomID)
	if g != nil {
		g.remove(c.UserID)
	}
	if c.roomID == roomID {
		c.roomID = ""
	}

	count, err := h.store.ParticipantCount(ctx, roomID)
	if err != nil {
		h.log.Error("participant count", slog.String("room_id", roomID), slog.Any("error", err))
		return
	}

	if count == 0 {
		data, err := encode(models.TypeRoomEnded, models.RoomEndedPayload{
			RoomID:  roomID,
			Message: "room has ended",
		})
		if err == nil {
			c.enqueue(data)
			if g != nil {
				g.broadcast(data, "")
			}
		}
		if err := h.store.DeleteRoom(ctx, roomID); err != nil {
			h.log.Error("delete room", slog.String("room_id", roomID), slog.Any("error", err))
		}
		h.dropGroup(roomID)
		h.log.Info("room ended", slog.String("room_id", roomID))
		return
	}

	if g != nil {
		if data, err := encode(models.TypeParticipantLeft, models.ParticipantLeftPayload{UserID: c.UserID}); err == nil {
			g.broadcast(data, "")
		}
	}
	h.log.Info("left room", slog.String("room_id", roomID), slog.String("user_id", c.UserID))
}

// handleSignal relays an offer, answer or ICE candidate to the whole room
// group except the sender. Receivers filter on ToUserID themselves; the hub
// only stamps the sender identity.
func (h *Hub) handleSignal(c *Client, kind string, out models.MessageType, payload json.RawMessage) {
	var req models.SendSignalRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid signal payload")
		return
	}
	if req.RoomID == "" || req.RoomID != c.roomID {
		return
	}

	g := h.lookupGroup(req.RoomID)
	if g == nil {
		return
	}

	env := models.SignalEnvelope{
		SignalType:    kind,
		RoomID:        req.RoomID,
		FromUserID:    c.UserID,
		ToUserID:      req.ToUserID,
		SDP:           req.SDP,
		Candidate:     req.Candidate,
		SDPMid:        req.SDPMid,
		SDPMLineIndex: req.SDPMLineIndex,
	}
	data, err := encode(out, env)
	if err != nil {
		return
	}
	g.broadcast(data, c.UserID)
}

func (h *Hub) handleChat(c *Client, payload json.RawMessage) {
	var req models.SendChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid chat payload")
		return
	}
	if req.RoomID != c.roomID || req.Text == "" {
		return
	}

	msg, err := h.store.SaveChatMessage(context.Background(), req.RoomID, c.UserID, req.Text)
	if err != nil {
		h.log.Error("save chat", slog.String("room_id", req.RoomID), slog.Any("error", err))
		c.sendError("unable to send message")
		return
	}

	if g := h.lookupGroup(req.RoomID); g != nil {
		if data, err := encode(models.TypeReceiveChatMessage, msg); err == nil {
			g.broadcast(data, "")
		}
	}
}

func (h *Hub) handleToggle(c *Client, field string, out models.MessageType, payload json.RawMessage) {
	var req models.ToggleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid toggle payload")
		return
	}
	if req.RoomID != c.roomID {
		return
	}

	if err := h.store.SetParticipantStatus(context.Background(), req.RoomID, c.UserID, field, req.Enabled); err != nil {
		h.log.Error("set participant status",
			slog.String("room_id", req.RoomID),
			slog.String("field", field),
			slog.Any("error", err))
		return
	}

	if g := h.lookupGroup(req.RoomID); g != nil {
		status := models.ParticipantStatus{UserID: c.UserID, Enabled: req.Enabled}
		if data, err := encode(out, status); err == nil {
			g.broadcast(data, c.UserID)
		}
	}
}

// handleInitiateCall creates an invite-only room for the call and delivers
// the invitation on the callee's direct channel. An offline callee fails the
// call immediately and the room is discarded.
func (h *Hub) handleInitiateCall(c *Client, payload json.RawMessage) {
	var req models.InitiateCallRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid initiate_call payload")
		return
	}
	if req.ToUserID == "" || req.ToUserID == c.UserID {
		c.sendError("invalid call target")
		return
	}

	ctx := context.Background()
	roomName := "Voice Call"
	if req.CallType == models.CallTypeVideo {
		roomName = "Video Call"
	}
	// Scoped: reachable by id for the two parties, never listed, no code
	// challenge on join.
	room, err := h.store.CreateRoom(ctx, models.CreateRoomRequest{
		RoomName:        roomName,
		Privacy:         models.PrivacyScoped,
		MaxParticipants: 2,
	}, c.UserID)
	if err != nil {
		h.log.Error("create call room", slog.Any("error", err))
		c.sendError("unable to start call")
		return
	}

	fromName, err := h.store.UserName(ctx, c.UserID)
	if err != nil || fromName == "" {
		fromName = c.UserName
	}

	invite := &models.CallInvitation{
		CallID:       uuid.New().String(),
		RoomID:       room.RoomID,
		FromUserID:   c.UserID,
		FromUserName: fromName,
		ToUserID:     req.ToUserID,
		CallType:     req.CallType,
		CreatedAt:    time.Now().UTC(),
	}

	callee := h.direct(req.ToUserID)
	if callee == nil {
		h.log.Info("callee offline, dropping call",
			slog.String("to_user_id", req.ToUserID),
			slog.String("call_id", invite.CallID))
		h.store.DeleteRoom(ctx, room.RoomID)
		c.sendError("user is not available")
		return
	}

	h.mu.Lock()
	h.invites[invite.CallID] = invite
	h.mu.Unlock()

	callee.sendMessage(models.TypeReceiveCallInvitation, invite)
	// The caller needs the generated identifiers to cancel the call or
	// correlate the response.
	c.sendMessage(models.TypeCallCreated, invite)
	h.log.Info("call invitation sent",
		slog.String("call_id", invite.CallID),
		slog.String("room_id", invite.RoomID),
		slog.String("from", c.UserID),
		slog.String("to", req.ToUserID))
}

// handleRespondToCall resolves an invitation. On rejection the caller's
// notification is enqueued before the call room is deleted, so the caller
// always learns the outcome before the room disappears under it.
func (h *Hub) handleRespondToCall(c *Client, payload json.RawMessage) {
	var resp models.CallResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.sendError("invalid respond_to_call payload")
		return
	}
	resp.RespondingUserID = c.UserID

	h.mu.Lock()
	invite := h.invites[resp.CallID]
	delete(h.invites, resp.CallID)
	h.mu.Unlock()

	ctx := context.Background()
	callerID := ""
	if invite != nil {
		callerID = invite.FromUserID
		if resp.RoomID == "" {
			resp.RoomID = invite.RoomID
		}
	} else if room, err := h.store.GetRoom(ctx, resp.RoomID); err == nil {
		callerID = room.CreatorID
	}
	if callerID == "" {
		h.log.Warn("respond_to_call for unknown call", slog.String("call_id", resp.CallID))
		return
	}

	caller := h.direct(callerID)

	if resp.Accepted {
		if caller != nil {
			caller.sendMessage(models.TypeCallAccepted, resp)
		}
		h.log.Info("call accepted",
			slog.String("call_id", resp.CallID),
			slog.String("room_id", resp.RoomID),
			slog.String("by", c.UserID))
		return
	}

	if caller != nil {
		caller.sendMessage(models.TypeCallRejected, resp)
	}
	if err := h.store.DeleteRoom(ctx, resp.RoomID); err != nil {
		h.log.Error("delete call room", slog.String("room_id", resp.RoomID), slog.Any("error", err))
	}
	h.log.Info("call rejected",
		slog.String("call_id", resp.CallID),
		slog.String("by", c.UserID))
}

// handleCancelCall withdraws an outgoing invitation before it is answered.
func (h *Hub) handleCancelCall(c *Client, payload json.RawMessage) {
	var req models.CancelCallRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid cancel_call payload")
		return
	}

	h.mu.Lock()
	invite := h.invites[req.CallID]
	delete(h.invites, req.CallID)
	h.mu.Unlock()

	ctx := context.Background()
	roomID := req.RoomID
	notify := ""
	if invite != nil {
		roomID = invite.RoomID
		if invite.FromUserID == c.UserID {
			notify = invite.ToUserID
		} else {
			notify = invite.FromUserID
		}
	}

	if notify == "" {
		// Fall back to whoever already joined the call room.
		if parts, err := h.store.Participants(ctx, roomID); err == nil {
			for _, p := range parts {
				if p.UserID != c.UserID {
					notify = p.UserID
					break
				}
			}
		}
	}

	if other := h.direct(notify); other != nil {
		other.sendMessage(models.TypeCallCancelled, models.CallCancelledPayload{CallID: req.CallID})
	}

	if roomID != "" {
		if err := h.store.DeleteRoom(ctx, roomID); err != nil {
			h.log.Error("delete call room", slog.String("room_id", roomID), slog.Any("error", err))
		}
		h.dropGroup(roomID)
	}
	h.log.Info("call cancelled", slog.String("call_id", req.CallID), slog.String("by", c.UserID))
}
