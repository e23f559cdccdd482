package store

// Message status values. Delivery status is monotonic (sent → delivered →
// read); failed is terminal and only ever applied to pending local rows.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Outbox entry status values.
const (
	OutboxQueued    = "queued"
	OutboxUploading = "uploading"
	OutboxSending   = "sending"
	OutboxSent      = "sent"
	OutboxFailed    = "failed"
)

// PendingSeq sorts optimistic rows after every server-confirmed row that
// shares the same created_at timestamp.
const PendingSeq = 1 << 30

// Conversation is a two-party thread between the current user and one
// counterpart (a client, lawyer or coordinator on the platform).
type Conversation struct {
	ID                 string
	ParticipantID      string
	ParticipantName    string
	ParticipantRole    string
	ParticipantSeenAt  int64
	UnreadCount        int
	LastMessagePreview string
	LastMessageAt      int64
	Archived           bool
}

// Message is a synced or optimistic message within a conversation.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	SenderName     string
	Body           string
	Status         string
	FromMe         bool
	// Pending marks an optimistic local row the server has not echoed yet.
	Pending bool
	// Seq is the message's position in the server snapshot it arrived in;
	// it breaks ordering ties between equal CreatedAt values.
	Seq         int
	CreatedAt   int64
	Attachments []Attachment
}

// Attachment is a file reference carried by a message.
type Attachment struct {
	URL   string
	Name  string
	Mime  string
	Bytes int64
}

// OutboxEntry is a pending outgoing message, optionally carrying one
// staged attachment file awaiting upload.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	AttachmentPath string
	AttachmentName string
	AttachmentMime string
	Status         string
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
