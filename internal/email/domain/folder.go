package domain

import "strings"

// ThreadStatus holds a thread's folder flags. At most one is true.
type ThreadStatus struct {
	Draft bool `json:"draft"`
	Inbox bool `json:"inbox"`
	Sent  bool `json:"sent"`
}

// categories that disqualify a sent message from being "pure sent"
var bulkClassifications = []string{
	ClassificationPromotions,
	ClassificationSocial,
	ClassificationUpdates,
	ClassificationForums,
}

var inboxLikeLabels = []string{
	LabelInbox,
	LabelUnread,
	LabelImportant,
	LabelFlagged,
	LabelJunk,
	LabelSpam,
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}

func hasAny(labels []string, wants []string) bool {
	for _, w := range wants {
		if hasLabel(labels, w) {
			return true
		}
	}
	return false
}

// DeriveEmailLabel picks the message's folder bucket: draft, then sent, then inbox.
// When the message carries neither draft nor sent, "inbox" is added to the
// returned label set if missing.
func DeriveEmailLabel(labels []string) (EmailLabel, []string) {
	out := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || hasLabel(out, l) {
			continue
		}
		out = append(out, l)
	}

	switch {
	case hasLabel(out, LabelDraft):
		return EmailLabelDraft, out
	case hasLabel(out, LabelSent):
		return EmailLabelSent, out
	}
	if !hasLabel(out, LabelInbox) {
		out = append(out, LabelInbox)
	}
	return EmailLabelInbox, out
}

// IsPureSent reports a message the user sent that was not also delivered
// back to an inbox, spam folder or bulk category.
func IsPureSent(ls LabelSet) bool {
	if !hasLabel(ls.SysLabels, LabelSent) {
		return false
	}
	if hasAny(ls.SysLabels, []string{LabelInbox, LabelJunk, LabelSpam}) {
		return false
	}
	return !hasAny(ls.SysClassifications, bulkClassifications)
}

// IsInboxLike reports whether a message belongs in the inbox view
func IsInboxLike(ls LabelSet) bool {
	return hasAny(ls.SysLabels, inboxLikeLabels) || hasAny(ls.SysClassifications, bulkClassifications)
}

// ComputeThreadStatus derives the thread flags from every message in it.
// Draft wins over sent, sent over inbox; a thread with none of them has all flags false.
func ComputeThreadStatus(messages []LabelSet) ThreadStatus {
	var anyDraft, anySent, anyInbox bool
	for _, m := range messages {
		if hasLabel(m.SysLabels, LabelDraft) {
			anyDraft = true
		}
		if IsPureSent(m) {
			anySent = true
		}
		if IsInboxLike(m) {
			anyInbox = true
		}
	}
	switch {
	case anyDraft:
		return ThreadStatus{Draft: true}
	case anySent:
		return ThreadStatus{Sent: true}
	case anyInbox:
		return ThreadStatus{Inbox: true}
	}
	return ThreadStatus{}
}

// StatusForLabel returns the flags a freshly created thread is seeded with
func StatusForLabel(label EmailLabel) ThreadStatus {
	switch label {
	case EmailLabelDraft:
		return ThreadStatus{Draft: true}
	case EmailLabelSent:
		return ThreadStatus{Sent: true}
	default:
		return ThreadStatus{Inbox: true}
	}
}
