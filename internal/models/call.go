package models

import "time"

// CallType distinguishes audio-only from video calls.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallInvitation is delivered to the callee on their direct channel. The
// room referenced here is created for exactly this call.
type CallInvitation struct {
	CallID       string    `json:"callId"`
	RoomID       string    `json:"roomId"`
	FromUserID   string    `json:"fromUserId"`
	FromUserName string    `json:"fromUserName"`
	ToUserID     string    `json:"toUserId"`
	CallType     CallType  `json:"callType"`
	CreatedAt    time.Time `json:"createdAt"`
}

// InitiateCallRequest is the payload of an initiate_call frame.
type InitiateCallRequest struct {
	ConversationID int      `json:"conversationId"`
	ToUserID       string   `json:"toUserId"`
	CallType       CallType `json:"callType"`
}

// CallResponse resolves an invitation one way or the other.
type CallResponse struct {
	CallID           string `json:"callId"`
	RoomID           string `json:"roomId"`
	Accepted         bool   `json:"accepted"`
	RespondingUserID string `json:"respondingUserId"`
}

// CancelCallRequest is the payload of a cancel_call frame.
type CancelCallRequest struct {
	CallID string `json:"callId"`
	RoomID string `json:"roomId"`
}
