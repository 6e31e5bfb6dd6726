package hub

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message types. The dispatcher routes on these via an explicit
// handler table; anything else is answered with UNKNOWN_MESSAGE_TYPE.
const (
	MsgJoinChannel       = "join_channel"
	MsgLeaveChannel      = "leave_channel"
	MsgPing              = "ping"
	MsgSubscribeMatch    = "subscribe_match"
	MsgSubscribeComments = "subscribe_comments"
	MsgSendTyping        = "send_typing"
)

// Outbound message types.
const (
	MsgConnectionEstablished = "connection_established"
	MsgChannelJoined         = "channel_joined"
	MsgChannelLeft           = "channel_left"
	MsgPong                  = "pong"
	MsgMatchState            = "match_state"
	MsgMatchUpdate           = "match_update"
	MsgCommentAdded          = "comment_added"
	MsgUserJoined            = "user_joined"
	MsgUserTyping            = "user_typing"
	MsgNotification          = "notification"
	MsgError                 = "error"
	MsgServerShutdown        = "server_shutdown"
)

// Error codes carried in error frames. All of them are recoverable: the
// connection stays open after the reply.
const (
	ErrCodeInvalidFormat     = "INVALID_MESSAGE_FORMAT"
	ErrCodeUnknownType       = "UNKNOWN_MESSAGE_TYPE"
	ErrCodeAccessDenied      = "CHANNEL_ACCESS_DENIED"
	ErrCodeProcessingFailure = "MESSAGE_PROCESSING_ERROR"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

// Message is an outbound frame before encoding. The hub stamps the
// timestamp at send time; Channel and UserID are provenance fields set
// on broadcasts and user pushes respectively.
type Message struct {
	Type    string
	Data    any
	Channel string
	UserID  string
}

func (m Message) encode(now time.Time) ([]byte, error) {
	env := Envelope{
		Type:      m.Type,
		Timestamp: now.UTC().Format(time.RFC3339),
		Channel:   m.Channel,
		UserID:    m.UserID,
	}
	if m.Data != nil {
		data, err := json.Marshal(m.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", m.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Payloads of inbound frames.

type joinChannelData struct {
	Channel string `json:"channel"`
}

type leaveChannelData struct {
	Channel string `json:"channel"`
}

type subscribeMatchData struct {
	MatchID string `json:"matchId"`
}

type subscribeCommentsData struct {
	ArticleID string `json:"articleId"`
}

type sendTypingData struct {
	ArticleID string `json:"articleId"`
	IsTyping  bool   `json:"isTyping"`
}

// Payloads of outbound frames.

type connectionEstablishedData struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

type channelJoinedData struct {
	Channel string `json:"channel"`
}

type channelLeftData struct {
	Channel string `json:"channel"`
}

type pongData struct {
	ServerTime string `json:"serverTime"`
}

type userJoinedData struct {
	UserID  string `json:"userId"`
	Channel string `json:"channel"`
}

type userTypingData struct {
	UserID    string `json:"userId"`
	ArticleID string `json:"articleId"`
	IsTyping  bool   `json:"isTyping"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
