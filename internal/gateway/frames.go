package gateway

import "encoding/json"

// Frame types on the outbound side of the socket.
const (
	FrameAssistantMessage = "assistant_message"
	FrameUserAck          = "user_ack"
	FrameForceLogout      = "force_logout"
)

// InboundFrame is everything a client may send over the socket: either a
// user turn (Text set) or a typing ping (Type == "typing", no text).
type InboundFrame struct {
	Type        string          `json:"type,omitempty"`
	SessionID   string          `json:"sessionId"`
	ClientMsgID string          `json:"clientMsgId,omitempty"`
	Text        string          `json:"text,omitempty"`
	ChatMode    string          `json:"chatMode,omitempty"`
	UserRole    json.RawMessage `json:"userRole,omitempty"`
}

func (f *InboundFrame) IsTyping() bool { return f.Type == "typing" }

// OutboundFrame is one server-to-client event.
type OutboundFrame struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId,omitempty"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
	Content     string `json:"content,omitempty"`
	Quote       string `json:"quote,omitempty"`
}

func AssistantMessage(sessionID, content, quote string) OutboundFrame {
	return OutboundFrame{Type: FrameAssistantMessage, SessionID: sessionID, Content: content, Quote: quote}
}

func UserAck(sessionID, clientMsgID string) OutboundFrame {
	return OutboundFrame{Type: FrameUserAck, SessionID: sessionID, ClientMsgID: clientMsgID}
}

func ForceLogout(sessionID string) OutboundFrame {
	return OutboundFrame{Type: FrameForceLogout, SessionID: sessionID}
}
