package zinc

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error reported by the Zinc API.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// User is a Zinc account as returned by the API.
type User struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Message is a direct message. CreatedAt is the server-assigned RFC 3339
// timestamp; it sorts lexicographically, which the sync engine relies on.
type Message struct {
	ID         string `json:"_id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text,omitempty"`
	Image      string `json:"image,omitempty"`
	Seen       bool   `json:"seen"`
	CreatedAt  string `json:"createdAt"`
}

// ============================================================================
// Auth API Types
// ============================================================================

// Credentials is the login/signup request body. FullName and Bio are only
// read by signup.
type Credentials struct {
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Bio      string `json:"bio,omitempty"`
}

// AuthResult is the response of POST /api/auth/{login|signup}.
type AuthResult struct {
	Success  bool   `json:"success"`
	Token    string `json:"token,omitempty"`
	UserData *User  `json:"userData,omitempty"`
	Message  string `json:"message,omitempty"`
}

// CheckResult is the response of GET /api/auth/check.
type CheckResult struct {
	Success bool   `json:"success"`
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProfileUpdate is the request body of PUT /api/auth/update-profile.
// Zero-valued fields are omitted and left unchanged server-side.
type ProfileUpdate struct {
	FullName   string `json:"fullName,omitempty"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// ProfileResult is the response of PUT /api/auth/update-profile.
type ProfileResult struct {
	Success bool   `json:"success"`
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// ============================================================================
// Messaging API Types
// ============================================================================

// UsersResult is the response of GET /api/messages/users: the sidebar peers
// plus the per-peer unseen-message counts.
type UsersResult struct {
	Success        bool           `json:"success"`
	Users          []User         `json:"users"`
	UnseenMessages map[string]int `json:"unseenMessages"`
	Message        string         `json:"message,omitempty"`
}

// HistoryResult is the response of GET /api/messages/{peerID}.
type HistoryResult struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
	Message  string    `json:"message,omitempty"`
}

// SendResult is the response of POST /api/messages/send/{peerID}. The wire
// "message" field is the stored Message on success but an error string on
// failure, so it is kept raw and split by Sent/Reason.
type SendResult struct {
	Success bool            `json:"success"`
	Raw     json.RawMessage `json:"message,omitempty"`
}

// Sent returns the server-stored message, or nil if the response carried an
// error string instead.
func (r *SendResult) Sent() *Message {
	if len(r.Raw) == 0 || r.Raw[0] != '{' {
		return nil
	}
	var m Message
	if err := json.Unmarshal(r.Raw, &m); err != nil {
		return nil
	}
	return &m
}

// Reason returns the error string from a failed send, if any.
func (r *SendResult) Reason() string {
	if len(r.Raw) == 0 || r.Raw[0] != '"' {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Raw, &s); err != nil {
		return ""
	}
	return s
}

// Outgoing is the request body of POST /api/messages/send/{peerID}.
type Outgoing struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// ============================================================================
// Channel Event Types
// ============================================================================

// Channel event kinds pushed by the server.
const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
)

// Envelope is the wire format for all channel events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
