package domain

import (
	"time"

	"github.com/lib/pq"
)

// EmailLabel is the single folder bucket derived for a message at upsert time
type EmailLabel string

const (
	EmailLabelInbox EmailLabel = "inbox"
	EmailLabelSent  EmailLabel = "sent"
	EmailLabelDraft EmailLabel = "draft"
)

// System labels as normalized at the provider boundary
const (
	LabelInbox     = "inbox"
	LabelSent      = "sent"
	LabelDraft     = "draft"
	LabelImportant = "important"
	LabelUnread    = "unread"
	LabelFlagged   = "flagged"
	LabelJunk      = "junk"
	LabelSpam      = "spam"
	LabelTrash     = "trash"
)

// System classifications as normalized at the provider boundary
const (
	ClassificationPersonal   = "personal"
	ClassificationSocial     = "social"
	ClassificationPromotions = "promotions"
	ClassificationUpdates    = "updates"
	ClassificationForums     = "forums"
)

// EmailAddress is a participant address scoped to one account
type EmailAddress struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	AccountID string    `json:"account_id" gorm:"uniqueIndex:idx_account_address;not null"`
	Address   string    `json:"address" gorm:"uniqueIndex:idx_account_address;not null"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (EmailAddress) TableName() string {
	return "email_addresses"
}

// Thread groups messages under the provider-assigned conversation id.
// At most one of DraftStatus, InboxStatus and SentStatus is true.
type Thread struct {
	ID              string         `json:"id" gorm:"primaryKey"`
	AccountID       string         `json:"account_id" gorm:"index;not null"`
	Subject         string         `json:"subject"`
	LastMessageDate time.Time      `json:"last_message_date" gorm:"index"`
	ParticipantIDs  pq.StringArray `json:"participant_ids" gorm:"type:text[]"`
	DraftStatus     bool           `json:"draft_status" gorm:"default:false;index"`
	InboxStatus     bool           `json:"inbox_status" gorm:"default:false;index"`
	SentStatus      bool           `json:"sent_status" gorm:"default:false;index"`
	SnoozedUntil    *time.Time     `json:"snoozed_until,omitempty"`
	RemindAt        *time.Time     `json:"remind_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Thread) TableName() string {
	return "threads"
}

// Status returns the thread's folder flags
func (t *Thread) Status() ThreadStatus {
	return ThreadStatus{Draft: t.DraftStatus, Inbox: t.InboxStatus, Sent: t.SentStatus}
}

// Email is one persisted message
type Email struct {
	ID                 string         `json:"id" gorm:"primaryKey"`
	ThreadID           string         `json:"thread_id" gorm:"index;not null"`
	AccountID          string         `json:"account_id" gorm:"index;not null"`
	InternetMessageID  string         `json:"internet_message_id,omitempty"`
	Subject            string         `json:"subject"`
	FromID             string         `json:"from_id" gorm:"not null"`
	From               *EmailAddress  `json:"from,omitempty" gorm:"foreignKey:FromID"`
	ToIDs              pq.StringArray `json:"to_ids" gorm:"type:text[]"`
	CcIDs              pq.StringArray `json:"cc_ids" gorm:"type:text[]"`
	BccIDs             pq.StringArray `json:"bcc_ids" gorm:"type:text[]"`
	ReplyToIDs         pq.StringArray `json:"reply_to_ids" gorm:"type:text[]"`
	SysLabels          pq.StringArray `json:"sys_labels" gorm:"type:text[]"`
	SysClassifications pq.StringArray `json:"sys_classifications" gorm:"type:text[]"`
	Keywords           pq.StringArray `json:"keywords" gorm:"type:text[]"`
	EmailLabel         EmailLabel     `json:"email_label" gorm:"index;not null;default:inbox"`
	SentAt             time.Time      `json:"sent_at"`
	ReceivedAt         time.Time      `json:"received_at" gorm:"index"`
	InReplyTo          string         `json:"in_reply_to,omitempty"`
	References         string         `json:"references,omitempty" gorm:"column:references_header;type:text"`
	HasAttachments     bool           `json:"has_attachments"`
	Body               string         `json:"body,omitempty" gorm:"type:text"`
	BodySnippet        string         `json:"body_snippet,omitempty"`
	Summary            *string        `json:"summary,omitempty" gorm:"type:text"`
	Embedding          Vector         `json:"-" gorm:"type:vector(768)"`
	Attachments        []Attachment   `json:"attachments,omitempty" gorm:"foreignKey:EmailID"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Email) TableName() string {
	return "emails"
}

// IsImportant reports whether the provider flagged the message important
func (e *Email) IsImportant() bool {
	return hasLabel(e.SysLabels, LabelImportant)
}

// Date is the timestamp used for recency: received time, falling back to sent time
func (e *Email) Date() time.Time {
	if !e.ReceivedAt.IsZero() {
		return e.ReceivedAt
	}
	return e.SentAt
}

// Attachment holds attachment metadata; content lives elsewhere
type Attachment struct {
	ID        string `json:"id" gorm:"primaryKey"`
	EmailID   string `json:"email_id" gorm:"index;not null"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
	Inline    bool   `json:"inline"`
	ContentID string `json:"content_id,omitempty"`
}

// TableName specifies the table name for GORM
func (Attachment) TableName() string {
	return "email_attachments"
}

// LabelSet is the label/classification view of a message used for folder reconciliation
type LabelSet struct {
	SysLabels          pq.StringArray
	SysClassifications pq.StringArray
}
