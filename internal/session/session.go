// Package session is the client side of the signaling protocol: room
// membership and roster, signal routing into the peer connection
// orchestrator, direct calls, and automatic rejoin after reconnects.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/studyroom-signaling/internal/auth"
	"github.com/mossy-p/studyroom-signaling/internal/callstate"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/rtc"
)

var ErrCallInProgress = errors.New("another call is already in progress")

// Handlers are the application-facing notifications. All fields are
// optional; they are invoked from the transport's read goroutine and
// panics in them are contained.
type Handlers struct {
	OnConnectionState   func(ConnState)
	OnRoomJoined        func(models.JoinRoomResponse)
	OnParticipantJoined func(models.Participant)
	OnParticipantLeft   func(userID string)
	OnParticipantStatus func(models.MessageType, models.ParticipantStatus)
	OnChatMessage       func(models.ChatMessage)
	OnRoomEnded         func(models.RoomEndedPayload)
	OnCallInvitation    func(models.CallInvitation)
	OnCallAccepted      func(models.CallResponse)
	OnCallRejected      func(models.CallResponse)
	OnCallCancelled     func(models.CallCancelledPayload)
	OnServerError       func(string)
}

// Session drives one user's connection to the signaling server.
type Session struct {
	transport *transport
	orch      *rtc.Orchestrator
	calls     *callstate.Machine
	handlers  Handlers
	log       *slog.Logger

	selfID   string
	selfName string

	mu       sync.Mutex
	roomID   string
	roomCode string
	roster   map[string]models.Participant
	joinResp chan models.JoinRoomResponse
}

// New builds a session. The user identity is read from the token's claims;
// the server remains the authority on who the token belongs to.
func New(serverURL, token string, orch *rtc.Orchestrator, handlers Handlers, logger *slog.Logger) (*Session, error) {
	claims, err := auth.LocalClaims(token)
	if err != nil {
		return nil, fmt.Errorf("read identity from token: %w", err)
	}

	s := &Session{
		orch:     orch,
		calls:    callstate.NewMachine(),
		handlers: handlers,
		log:      logger,
		selfID:   claims.UserID,
		selfName: claims.UserName,
		roster:   make(map[string]models.Participant),
		joinResp: make(chan models.JoinRoomResponse, 1),
	}
	s.transport = newTransport(serverURL+"?token="+token, logger, s.handleMessage, s.handleConnState)

	orch.OnIceCandidate = s.sendIceCandidate
	orch.OnAnswerCreated = s.sendAnswer
	return s, nil
}

func (s *Session) SelfID() string   { return s.selfID }
func (s *Session) SelfName() string { return s.selfName }

// CallState exposes the call machine for gating UI affordances.
func (s *Session) CallState() *callstate.Machine { return s.calls }

func (s *Session) Connect() error { return s.transport.Connect() }

func (s *Session) Close() {
	s.transport.Close()
	s.orch.CloseAll()
	s.calls.ForceReset()
}

func (s *Session) Connected() bool { return s.transport.State() == StateConnected }

// notify contains observer panics so a broken handler cannot take down the
// read loop.
func (s *Session) notify(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", slog.String("handler", name), slog.Any("panic", r))
		}
	}()
	fn()
}

func (s *Session) send(t models.MessageType, payload any) error {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		return err
	}
	return s.transport.Send(msg)
}

// JoinRoom requests membership and waits for the server's response.
func (s *Session) JoinRoom(ctx context.Context, roomID, roomCode string) (*models.JoinRoomResponse, error) {
	// Drain a stale response from an earlier aborted join.
	select {
	case <-s.joinResp:
	default:
	}

	if err := s.send(models.TypeJoinRoom, models.JoinRoomRequest{RoomID: roomID, RoomCode: roomCode}); err != nil {
		return nil, err
	}

	select {
	case resp := <-s.joinResp:
		if resp.Success {
			s.mu.Lock()
			s.roomCode = roomCode
			s.mu.Unlock()
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LeaveRoom leaves the current room and tears down every peer connection.
func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	roomID := s.roomID
	peers := s.rosterPeersLocked()
	s.roomID = ""
	s.roomCode = ""
	s.roster = make(map[string]models.Participant)
	s.mu.Unlock()

	if roomID == "" {
		return nil
	}
	for _, userID := range peers {
		s.orch.ClosePeerConnection(userID)
	}
	return s.send(models.TypeLeaveRoom, models.LeaveRoomRequest{RoomID: roomID})
}

func (s *Session) rosterPeersLocked() []string {
	ids := make([]string, 0, len(s.roster))
	for id := range s.roster {
		if id != s.selfID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Roster returns the current membership snapshot, including this user.
func (s *Session) Roster() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, p)
	}
	return out
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// SendChat fails loudly when offline; a silently dropped chat message is
// worse than an error.
func (s *Session) SendChat(text string) error {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return errors.New("not in a room")
	}
	return s.send(models.TypeSendChatMessage, models.SendChatRequest{RoomID: roomID, Text: text})
}

// Toggles degrade to no-ops when offline; local state is still updated so
// the UI stays truthful and the next join carries fresh status.
func (s *Session) ToggleMute(muted bool) {
	s.orch.ToggleAudio(!muted)
	s.sendToggle(models.TypeToggleMute, muted)
}

func (s *Session) ToggleVideo(enabled bool) {
	s.orch.ToggleVideo(enabled)
	s.sendToggle(models.TypeToggleVideo, enabled)
}

func (s *Session) ToggleScreenShare(enabled bool) error {
	if enabled {
		if err := s.orch.StartScreenShare(); err != nil {
			return err
		}
	} else {
		s.orch.StopScreenShare()
	}
	s.sendToggle(models.TypeToggleScreen, enabled)
	return nil
}

func (s *Session) sendToggle(t models.MessageType, enabled bool) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return
	}
	if err := s.send(t, models.ToggleRequest{RoomID: roomID, Enabled: enabled}); err != nil {
		s.log.Warn("toggle not sent", slog.String("type", string(t)), slog.Any("error", err))
	}
}

// StartMedia publishes local media; held remote offers resolve here.
func (s *Session) StartMedia(audio, video bool) error {
	return s.orch.StartLocalStream(audio, video)
}

// InitiateCall invites another user. Refused locally while any call is in
// progress.
func (s *Session) InitiateCall(toUserID string, callType models.CallType) error {
	if !s.calls.StartInitiating("", "", toUserID) {
		return ErrCallInProgress
	}
	err := s.send(models.TypeInitiateCall, models.InitiateCallRequest{
		ToUserID: toUserID,
		CallType: callType,
	})
	if err != nil {
		s.calls.ForceReset()
		return err
	}
	s.calls.CompleteInitiating()
	return nil
}

// RespondToCall resolves a pending invitation.
func (s *Session) RespondToCall(invite models.CallInvitation, accepted bool) error {
	resp := models.CallResponse{
		CallID:           invite.CallID,
		RoomID:           invite.RoomID,
		Accepted:         accepted,
		RespondingUserID: s.selfID,
	}
	if accepted {
		if !s.calls.Accept() {
			return errors.New("no incoming call to accept")
		}
		return s.send(models.TypeRespondToCall, resp)
	}

	s.calls.Reject()
	err := s.send(models.TypeRespondToCall, resp)
	s.calls.ForceReset()
	return err
}

// CancelCall withdraws our outgoing invitation.
func (s *Session) CancelCall() error {
	callID := s.calls.CallID()
	roomID := s.calls.RoomID()
	s.calls.ForceReset()
	return s.send(models.TypeCancelCall, models.CancelCallRequest{CallID: callID, RoomID: roomID})
}

// EndCall leaves the call room and resets call state.
func (s *Session) EndCall() error {
	s.calls.EndCall()
	return s.LeaveRoom()
}

func (s *Session) handleConnState(state ConnState) {
	s.notify("connection_state", func() {
		if s.handlers.OnConnectionState != nil {
			s.handlers.OnConnectionState(state)
		}
	})

	switch state {
	case StateConnected:
		s.rejoinIfNeeded()
	case StateClosed:
		s.calls.ForceReset()
	}
}

// rejoinIfNeeded re-enters the cached room after a reconnect. Peer
// connections are rebuilt from the fresh roster like on a first join.
func (s *Session) rejoinIfNeeded() {
	s.mu.Lock()
	roomID := s.roomID
	roomCode := s.roomCode
	peers := s.rosterPeersLocked()
	if roomID != "" {
		s.roster = make(map[string]models.Participant)
	}
	s.mu.Unlock()

	if roomID == "" {
		return
	}
	for _, id := range peers {
		s.orch.ClosePeerConnection(id)
	}
	s.log.Info("rejoining room after reconnect", slog.String("room_id", roomID))
	if err := s.send(models.TypeJoinRoom, models.JoinRoomRequest{RoomID: roomID, RoomCode: roomCode}); err != nil {
		s.log.Error("rejoin failed", slog.String("room_id", roomID), slog.Any("error", err))
	}
}

func (s *Session) handleMessage(msg models.Message) {
	switch msg.Type {
	case models.TypeJoinResponse:
		s.onJoinResponse(msg.Payload)
	case models.TypeParticipantJoined:
		s.onParticipantJoined(msg.Payload)
	case models.TypeParticipantLeft:
		s.onParticipantLeft(msg.Payload)
	case models.TypeReceiveOffer:
		s.onOffer(msg.Payload)
	case models.TypeReceiveAnswer:
		s.onAnswer(msg.Payload)
	case models.TypeReceiveIceCandidate:
		s.onIceCandidate(msg.Payload)
	case models.TypeReceiveChatMessage:
		s.onChat(msg.Payload)
	case models.TypeMuteChanged, models.TypeScreenShareChanged, models.TypeVideoChanged:
		s.onStatusChanged(msg.Type, msg.Payload)
	case models.TypeReceiveCallInvitation:
		s.onCallInvitation(msg.Payload)
	case models.TypeCallCreated:
		s.onCallCreated(msg.Payload)
	case models.TypeCallAccepted:
		s.onCallAccepted(msg.Payload)
	case models.TypeCallRejected:
		s.onCallRejected(msg.Payload)
	case models.TypeCallCancelled:
		s.onCallCancelled(msg.Payload)
	case models.TypeRoomEnded:
		s.onRoomEnded(msg.Payload)
	case models.TypeError:
		s.onServerError(msg.Payload)
	default:
		s.log.Warn("unknown frame from server", slog.String("type", string(msg.Type)))
	}
}

func (s *Session) onJoinResponse(payload json.RawMessage) {
	var resp models.JoinRoomResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.log.Warn("bad join_response", slog.Any("error", err))
		return
	}

	if resp.Success && resp.Room != nil {
		s.mu.Lock()
		s.roomID = resp.Room.RoomID
		s.roster = make(map[string]models.Participant)
		for _, p := range resp.Participants {
			s.roster[p.UserID] = p
		}
		s.mu.Unlock()

		// Pre-existing members will offer towards us; prepare a receiving
		// connection for each and surface them like live join events.
		for _, p := range resp.Participants {
			if p.UserID == s.selfID {
				continue
			}
			if err := s.orch.CreatePeerConnection(p.UserID, false); err != nil {
				s.log.Error("create peer connection", slog.String("peer_id", p.UserID), slog.Any("error", err))
			}
			member := p
			s.notify("participant_joined", func() {
				if s.handlers.OnParticipantJoined != nil {
					s.handlers.OnParticipantJoined(member)
				}
			})
		}

		// Joining the call room after accepting means media can flow.
		if s.calls.State() == callstate.Accepted {
			s.calls.StartActive()
		}
	}

	select {
	case s.joinResp <- resp:
	default:
	}
	s.notify("room_joined", func() {
		if s.handlers.OnRoomJoined != nil {
			s.handlers.OnRoomJoined(resp)
		}
	})
}

// onParticipantJoined makes this side the negotiation initiator towards the
// newcomer: existing members offer, joiners answer.
func (s *Session) onParticipantJoined(payload json.RawMessage) {
	var p models.Participant
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	if p.UserID == s.selfID {
		return
	}

	s.mu.Lock()
	s.roster[p.UserID] = p
	roomID := s.roomID
	s.mu.Unlock()

	s.notify("participant_joined", func() {
		if s.handlers.OnParticipantJoined != nil {
			s.handlers.OnParticipantJoined(p)
		}
	})

	if err := s.orch.CreatePeerConnection(p.UserID, true); err != nil {
		s.log.Error("create peer connection", slog.String("peer_id", p.UserID), slog.Any("error", err))
		return
	}
	sdp, err := s.orch.CreateOffer(p.UserID)
	if err != nil {
		s.log.Error("create offer", slog.String("peer_id", p.UserID), slog.Any("error", err))
		return
	}
	if err := s.send(models.TypeSendOffer, models.SendSignalRequest{
		RoomID:   roomID,
		ToUserID: p.UserID,
		SDP:      sdp,
	}); err != nil {
		s.log.Error("send offer", slog.String("peer_id", p.UserID), slog.Any("error", err))
	}
}

func (s *Session) onParticipantLeft(payload json.RawMessage) {
	var left models.ParticipantLeftPayload
	if err := json.Unmarshal(payload, &left); err != nil {
		return
	}

	s.mu.Lock()
	delete(s.roster, left.UserID)
	s.mu.Unlock()

	s.orch.ClosePeerConnection(left.UserID)
	s.notify("participant_left", func() {
		if s.handlers.OnParticipantLeft != nil {
			s.handlers.OnParticipantLeft(left.UserID)
		}
	})
}

// forMe drops relayed envelopes addressed to someone else: the hub
// broadcasts to the whole room and receivers filter on the target.
func (s *Session) forMe(env *models.SignalEnvelope) bool {
	return env.ToUserID == "" || env.ToUserID == s.selfID
}

func (s *Session) onOffer(payload json.RawMessage) {
	var env models.SignalEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	if !s.forMe(&env) {
		return
	}

	if err := s.orch.CreatePeerConnection(env.FromUserID, false); err != nil {
		s.log.Error("create peer connection", slog.String("peer_id", env.FromUserID), slog.Any("error", err))
		return
	}
	res, err := s.orch.CreateAnswer(env.FromUserID, env.SDP)
	if err != nil {
		s.log.Error("create answer", slog.String("peer_id", env.FromUserID), slog.Any("error", err))
		return
	}
	if res.Pending {
		s.log.Info("offer held until media starts", slog.String("peer_id", env.FromUserID))
		return
	}
	s.sendAnswer(env.FromUserID, res.SDP)
}

func (s *Session) sendAnswer(peerID, sdp string) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if err := s.send(models.TypeSendAnswer, models.SendSignalRequest{
		RoomID:   roomID,
		ToUserID: peerID,
		SDP:      sdp,
	}); err != nil {
		s.log.Error("send answer", slog.String("peer_id", peerID), slog.Any("error", err))
	}
}

func (s *Session) onAnswer(payload json.RawMessage) {
	var env models.SignalEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	if !s.forMe(&env) {
		return
	}
	if err := s.orch.SetRemoteAnswer(env.FromUserID, env.SDP); err != nil {
		s.log.Error("apply answer", slog.String("peer_id", env.FromUserID), slog.Any("error", err))
	}
}

func (s *Session) sendIceCandidate(peerID string, candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if err := s.send(models.TypeSendIceCandidate, models.SendSignalRequest{
		RoomID:        roomID,
		ToUserID:      peerID,
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}); err != nil {
		s.log.Warn("send ice candidate", slog.String("peer_id", peerID), slog.Any("error", err))
	}
}

func (s *Session) onIceCandidate(payload json.RawMessage) {
	var env models.SignalEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	if !s.forMe(&env) {
		return
	}
	err := s.orch.AddIceCandidate(env.FromUserID, webrtc.ICECandidateInit{
		Candidate:     env.Candidate,
		SDPMid:        env.SDPMid,
		SDPMLineIndex: env.SDPMLineIndex,
	})
	if err != nil && !errors.Is(err, rtc.ErrPeerNotFound) {
		s.log.Warn("apply ice candidate", slog.String("peer_id", env.FromUserID), slog.Any("error", err))
	}
}

func (s *Session) onChat(payload json.RawMessage) {
	var msg models.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	s.notify("chat_message", func() {
		if s.handlers.OnChatMessage != nil {
			s.handlers.OnChatMessage(msg)
		}
	})
}

func (s *Session) onStatusChanged(t models.MessageType, payload json.RawMessage) {
	var status models.ParticipantStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return
	}

	s.mu.Lock()
	if p, ok := s.roster[status.UserID]; ok {
		switch t {
		case models.TypeMuteChanged:
			p.IsMuted = status.Enabled
		case models.TypeScreenShareChanged:
			p.IsScreenShared = status.Enabled
		case models.TypeVideoChanged:
			p.IsVideoEnabled = status.Enabled
		}
		s.roster[status.UserID] = p
	}
	s.mu.Unlock()

	s.notify("participant_status", func() {
		if s.handlers.OnParticipantStatus != nil {
			s.handlers.OnParticipantStatus(t, status)
		}
	})
}

// onCallInvitation drops the invitation when a call is already in progress;
// the caller's invitation simply times out on their side.
func (s *Session) onCallInvitation(payload json.RawMessage) {
	var invite models.CallInvitation
	if err := json.Unmarshal(payload, &invite); err != nil {
		return
	}

	if !s.calls.StartIncoming(invite.CallID, invite.RoomID, invite.FromUserID) {
		s.log.Info("busy, dropping call invitation",
			slog.String("call_id", invite.CallID),
			slog.String("from", invite.FromUserID))
		return
	}
	s.notify("call_invitation", func() {
		if s.handlers.OnCallInvitation != nil {
			s.handlers.OnCallInvitation(invite)
		}
	})
}

// onCallCreated stores the hub-assigned identifiers of our outgoing
// call so that cancel_call and response correlation are routable.
func (s *Session) onCallCreated(payload json.RawMessage) {
	var invite models.CallInvitation
	if err := json.Unmarshal(payload, &invite); err != nil {
		return
	}
	if !s.calls.ConfirmInitiated(invite.CallID, invite.RoomID) {
		s.log.Info("call_created without an outgoing call",
			slog.String("call_id", invite.CallID))
	}
}

func (s *Session) onCallAccepted(payload json.RawMessage) {
	var resp models.CallResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return
	}
	s.calls.StartActive()
	s.notify("call_accepted", func() {
		if s.handlers.OnCallAccepted != nil {
			s.handlers.OnCallAccepted(resp)
		}
	})
}

func (s *Session) onCallRejected(payload json.RawMessage) {
	var resp models.CallResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return
	}
	s.notify("call_rejected", func() {
		if s.handlers.OnCallRejected != nil {
			s.handlers.OnCallRejected(resp)
		}
	})
	s.calls.ForceReset()
}

func (s *Session) onCallCancelled(payload json.RawMessage) {
	var cancelled models.CallCancelledPayload
	if err := json.Unmarshal(payload, &cancelled); err != nil {
		return
	}
	s.calls.ForceReset()
	s.notify("call_cancelled", func() {
		if s.handlers.OnCallCancelled != nil {
			s.handlers.OnCallCancelled(cancelled)
		}
	})
}

func (s *Session) onRoomEnded(payload json.RawMessage) {
	var ended models.RoomEndedPayload
	if err := json.Unmarshal(payload, &ended); err != nil {
		return
	}

	s.mu.Lock()
	current := s.roomID == ended.RoomID
	var peers []string
	if current {
		peers = s.rosterPeersLocked()
		s.roomID = ""
		s.roomCode = ""
		s.roster = make(map[string]models.Participant)
	}
	s.mu.Unlock()

	if current {
		for _, userID := range peers {
			s.orch.ClosePeerConnection(userID)
		}
		if s.calls.RoomID() == ended.RoomID || s.calls.State() == callstate.Active {
			s.calls.EndCall()
		}
	}
	s.notify("room_ended", func() {
		if s.handlers.OnRoomEnded != nil {
			s.handlers.OnRoomEnded(ended)
		}
	})
}

func (s *Session) onServerError(payload json.RawMessage) {
	var e models.ErrorPayload
	if err := json.Unmarshal(payload, &e); err != nil {
		return
	}
	s.log.Warn("server error", slog.String("error", e.Error))
	s.notify("server_error", func() {
		if s.handlers.OnServerError != nil {
			s.handlers.OnServerError(e.Error)
		}
	})
}
