package domain

import (
	"fmt"
	"strings"
	"time"
)

// Address is a raw participant as seen in a provider record
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Normalized returns the address lower-cased and trimmed, the registry key
func (a Address) Normalized() string {
	return strings.ToLower(strings.TrimSpace(a.Address))
}

// MessageAttachment is attachment metadata carried on a provider record
type MessageAttachment struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
	Inline    bool   `json:"inline"`
	ContentID string `json:"content_id,omitempty"`
}

// Message is the single normalized mail record produced by every provider
// adapter. Nothing past the sync client sees provider payloads.
type Message struct {
	ID                 string
	ThreadID           string
	InternetMessageID  string
	Subject            string
	From               Address
	To                 []Address
	Cc                 []Address
	Bcc                []Address
	ReplyTo            []Address
	SysLabels          []string
	SysClassifications []string
	Keywords           []string
	SentAt             time.Time
	ReceivedAt         time.Time
	InReplyTo          string
	References         string
	HasAttachments     bool
	Body               string
	BodySnippet        string
	Attachments        []MessageAttachment
}

// Validate rejects records that cannot be persisted
func (m *Message) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	case strings.TrimSpace(m.ThreadID) == "":
		return fmt.Errorf("%w: message %s has no thread id", ErrInvalidMessage, m.ID)
	case m.From.Normalized() == "":
		return fmt.Errorf("%w: message %s has no sender", ErrInvalidMessage, m.ID)
	case !strings.Contains(m.From.Address, "@"):
		return fmt.Errorf("%w: message %s has malformed sender %q", ErrInvalidMessage, m.ID, m.From.Address)
	case m.SentAt.IsZero() && m.ReceivedAt.IsZero():
		return fmt.Errorf("%w: message %s has no timestamp", ErrInvalidMessage, m.ID)
	}
	return nil
}

// Date is the received time, falling back to sent time
func (m *Message) Date() time.Time {
	if !m.ReceivedAt.IsZero() {
		return m.ReceivedAt
	}
	return m.SentAt
}

// Participants returns every address on the message, sender first, in field order
func (m *Message) Participants() []Address {
	out := make([]Address, 0, 1+len(m.To)+len(m.Cc)+len(m.Bcc)+len(m.ReplyTo))
	out = append(out, m.From)
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	out = append(out, m.ReplyTo...)
	return out
}
