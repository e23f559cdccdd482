package rest

import (
	"time"

	"github.com/brunakemp/juschat/internal/store"
)

// User is the authenticated account profile.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Participant is the counterpart profile embedded in a conversation.
type Participant struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// Conversation is the wire representation of a conversation summary.
type Conversation struct {
	ID          string      `json:"id"`
	Participant Participant `json:"participant"`
	LastMessage *Message    `json:"lastMessage,omitempty"`
	UnreadCount int         `json:"unreadCount"`
	Archived    bool        `json:"archived"`
}

// Attachment is the wire representation of a file reference.
type Attachment struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Mime  string `json:"mimeType"`
	Bytes int64  `json:"bytes"`
}

// Message is the wire representation of a message.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	SenderName     string       `json:"senderName"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Status         string       `json:"status"`
	// ClientRef echoes the client message id supplied on create, when the
	// backend supports it. Used for exact optimistic reconciliation.
	ClientRef string    `json:"clientRef,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToStore converts a wire conversation to its store representation.
func (c *Conversation) ToStore() *store.Conversation {
	sc := &store.Conversation{
		ID:              c.ID,
		ParticipantID:   c.Participant.ID,
		ParticipantName: c.Participant.Name,
		ParticipantRole: c.Participant.Role,
		UnreadCount:     c.UnreadCount,
		Archived:        c.Archived,
	}
	if c.Participant.LastSeenAt != nil {
		sc.ParticipantSeenAt = c.Participant.LastSeenAt.UnixMilli()
	}
	if c.LastMessage != nil {
		sc.LastMessagePreview = preview(c.LastMessage)
		sc.LastMessageAt = c.LastMessage.CreatedAt.UnixMilli()
	}
	return sc
}

// ToStore converts a wire message to its store representation. seq is the
// message's position in the snapshot it arrived in; selfID identifies the
// current user so from_me is derivable.
func (m *Message) ToStore(seq int, selfID string) *store.Message {
	sm := &store.Message{
		ConversationID: m.ConversationID,
		MsgID:          m.ID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Body:           m.Text,
		Status:         m.Status,
		FromMe:         m.SenderID == selfID,
		Seq:            seq,
		CreatedAt:      m.CreatedAt.UnixMilli(),
	}
	if sm.Status == "" {
		sm.Status = store.StatusSent
	}
	for _, a := range m.Attachments {
		sm.Attachments = append(sm.Attachments, store.Attachment{
			URL: a.URL, Name: a.Name, Mime: a.Mime, Bytes: a.Bytes,
		})
	}
	return sm
}

func preview(m *Message) string {
	if m.Text != "" {
		return truncate(m.Text, 100)
	}
	if len(m.Attachments) > 0 {
		return "[file] " + m.Attachments[0].Name
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
