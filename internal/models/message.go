package models

import (
	"encoding/json"
	"time"
)

// MessageType tags every websocket frame exchanged with the hub.
type MessageType string

// Client to server.
const (
	TypeJoinRoom         MessageType = "join_room"
	TypeLeaveRoom        MessageType = "leave_room"
	TypeSendOffer        MessageType = "send_offer"
	TypeSendAnswer       MessageType = "send_answer"
	TypeSendIceCandidate MessageType = "send_ice_candidate"
	TypeSendChatMessage  MessageType = "send_chat_message"
	TypeToggleMute       MessageType = "toggle_mute"
	TypeToggleScreen     MessageType = "toggle_screen_share"
	TypeToggleVideo      MessageType = "toggle_video"
	TypeInitiateCall     MessageType = "initiate_call"
	TypeRespondToCall    MessageType = "respond_to_call"
	TypeCancelCall       MessageType = "cancel_call"
)

// Server to client.
const (
	TypeJoinResponse          MessageType = "join_response"
	TypeParticipantJoined     MessageType = "participant_joined"
	TypeParticipantLeft       MessageType = "participant_left"
	TypeReceiveOffer          MessageType = "receive_offer"
	TypeReceiveAnswer         MessageType = "receive_answer"
	TypeReceiveIceCandidate   MessageType = "receive_ice_candidate"
	TypeReceiveChatMessage    MessageType = "receive_chat_message"
	TypeMuteChanged           MessageType = "participant_mute_changed"
	TypeScreenShareChanged    MessageType = "participant_screen_share_changed"
	TypeVideoChanged          MessageType = "participant_video_changed"
	TypeReceiveCallInvitation MessageType = "receive_call_invitation"
	TypeCallCreated           MessageType = "call_created"
	TypeCallAccepted          MessageType = "call_accepted"
	TypeCallRejected          MessageType = "call_rejected"
	TypeCallCancelled         MessageType = "call_cancelled"
	TypeRoomEnded             MessageType = "room_ended"
	TypeError                 MessageType = "error"
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into a typed envelope.
func NewMessage(t MessageType, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: data}, nil
}

// Signal kinds carried by SignalEnvelope.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalIceCandidate = "ice_candidate"
)

// SignalEnvelope routes an offer, answer or ICE candidate between two
// identified participants. The hub relays it to the whole room group; each
// receiver discards envelopes whose ToUserID is not its own.
type SignalEnvelope struct {
	SignalType    string  `json:"signalType"`
	RoomID        string  `json:"roomId"`
	FromUserID    string  `json:"fromUserId"`
	ToUserID      string  `json:"toUserId"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SendSignalRequest is the client-side payload for the three send_* signal
// frames; the hub fills in the sender identity.
type SendSignalRequest struct {
	RoomID        string  `json:"roomId"`
	ToUserID      string  `json:"toUserId"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ChatMessage is a persisted room chat entry.
type ChatMessage struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SendChatRequest is the payload of a send_chat_message frame.
type SendChatRequest struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// ToggleRequest is the payload of the three toggle frames.
type ToggleRequest struct {
	RoomID  string `json:"roomId"`
	Enabled bool   `json:"enabled"`
}

// ErrorPayload carries a handler failure back to the caller.
type ErrorPayload struct {
	Error string `json:"error"`
}

// RoomEndedPayload tells remaining members the room is gone.
type RoomEndedPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// CallCancelledPayload notifies the other call participant.
type CallCancelledPayload struct {
	CallID string `json:"callId"`
}

// ParticipantLeftPayload identifies who left.
type ParticipantLeftPayload struct {
	UserID string `json:"userId"`
}
