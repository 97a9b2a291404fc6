package chat

import "encoding/json"

// Frame types exchanged on /ws/live/{stream_id}.
const (
	TypeChat          = "CHAT"
	TypeChatBroadcast = "CHAT_BROADCAST"
	TypeViewUpdate    = "VIEW_UPDATE"
	TypeJoined        = "JOINED"
	TypeLeft          = "LEFT"
	TypeError         = "ERROR"
)

// Frame is the single envelope for every chat frame; unused fields are
// omitted per type.
type Frame struct {
	Type      string `json:"type"`
	StreamID  string `json:"stream_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Content   string `json:"content,omitempty"`
	Count     int    `json:"count,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (f Frame) marshal() []byte {
	data, _ := json.Marshal(f)
	return data
}

// truncate cuts content at limit characters (runes, not bytes).
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
