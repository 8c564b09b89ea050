package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/pkg/logger"
	"mailcore-backend/pkg/provider"

	"github.com/emersion/go-message/mail"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	user              = "me"
	drainPageSize     = 100
	maxConcurrentGets = 10

	modeFull    = "full"
	modeHistory = "history"
)

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// Service adapts the Gmail API to the sync provider contract. The delta token
// is the mailbox history id; full drains page through Messages.List.
type Service struct {
	endpoint string
	breaker  *provider.Breaker
	now      func() time.Time
	log      *logrus.Entry
}

func NewService(log logrus.FieldLogger) *Service {
	return &Service{
		breaker: provider.NewBreaker("gmail-api", log),
		now:     time.Now,
		log:     logger.Component(log, "gmail"),
	}
}

// getGmailService creates a Gmail client signed with the account's access token
func (s *Service) getGmailService(ctx context.Context, accessToken string) (*gmail.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// call runs one API call through the breaker, mapping Google errors to provider errors
func (s *Service) call(op string, fn func() error) error {
	return s.breaker.Do(op, func() error {
		return wrapError(op, fn())
	})
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *emaildomain.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return emaildomain.NewProviderError(op, apiErr.Code, err)
	}
	return emaildomain.NewProviderError(op, 0, err)
}

// cursor is the opaque token handed to the sync client for both feeds
type cursor struct {
	Mode      string `json:"m"`
	Query     string `json:"q,omitempty"`
	PageToken string `json:"p,omitempty"`
	HistoryID uint64 `json:"h,omitempty"`
}

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeCursor accepts an encoded cursor or a bare history id
func decodeCursor(token string) (cursor, error) {
	if id, err := strconv.ParseUint(token, 10, 64); err == nil {
		return cursor{Mode: modeHistory, HistoryID: id}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("malformed sync token: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, fmt.Errorf("malformed sync token: %w", err)
	}
	if c.Mode != modeFull && c.Mode != modeHistory {
		return cursor{}, fmt.Errorf("unknown sync token mode %q", c.Mode)
	}
	return c, nil
}

// StartSync is always ready at once: it snapshots the history id so changes
// made during the drain are picked up by the first delta sync.
func (s *Service) StartSync(ctx context.Context, accessToken string, opts emaildomain.StartSyncOptions) (*emaildomain.StartSyncResult, error) {
	srv, err := s.getGmailService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var profile *gmail.Profile
	err = s.call("get_profile", func() error {
		var err error
		profile, err = srv.Users.GetProfile(user).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	var terms []string
	if opts.DaysWithin > 0 {
		since := s.now().AddDate(0, 0, -opts.DaysWithin)
		terms = append(terms, "after:"+since.Format("2006/01/02"))
	}
	if opts.Folder != "" {
		terms = append(terms, "in:"+string(opts.Folder))
	}

	return &emaildomain.StartSyncResult{
		Ready: true,
		SyncUpdatedToken: encodeCursor(cursor{
			Mode:      modeFull,
			Query:     strings.Join(terms, " "),
			HistoryID: profile.HistoryId,
		}),
	}, nil
}

// GetUpdatedRecords serves one page of either the full drain or the history feed
func (s *Service) GetUpdatedRecords(ctx context.Context, accessToken string, req emaildomain.UpdatedRecordsRequest) (*emaildomain.UpdatedRecordsPage, error) {
	token := req.DeltaToken
	if req.PageToken != "" {
		token = req.PageToken
	}
	cur, err := decodeCursor(token)
	if err != nil {
		return nil, emaildomain.NewProviderError("get_updated_records", http.StatusBadRequest, err)
	}

	srv, err := s.getGmailService(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if cur.Mode == modeFull {
		return s.drainPage(ctx, srv, cur)
	}
	return s.historyPage(ctx, srv, cur)
}

func (s *Service) drainPage(ctx context.Context, srv *gmail.Service, cur cursor) (*emaildomain.UpdatedRecordsPage, error) {
	var resp *gmail.ListMessagesResponse
	err := s.call("list_messages", func() error {
		call := srv.Users.Messages.List(user).MaxResults(drainPageSize)
		if cur.Query != "" {
			call = call.Q(cur.Query)
		}
		if cur.PageToken != "" {
			call = call.PageToken(cur.PageToken)
		}
		var err error
		resp, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	records, err := s.fetchMessages(ctx, srv, ids)
	if err != nil {
		return nil, err
	}

	page := &emaildomain.UpdatedRecordsPage{Records: records}
	if cur.HistoryID > 0 {
		page.NextDeltaToken = encodeCursor(cursor{Mode: modeHistory, HistoryID: cur.HistoryID})
	}
	if resp.NextPageToken != "" {
		next := cur
		next.PageToken = resp.NextPageToken
		page.NextPageToken = encodeCursor(next)
	}
	return page, nil
}

// historyPage lists changes since the cursor's history id. A 404 means the id
// has expired and surfaces as a provider error so the caller runs a full sync.
func (s *Service) historyPage(ctx context.Context, srv *gmail.Service, cur cursor) (*emaildomain.UpdatedRecordsPage, error) {
	var resp *gmail.ListHistoryResponse
	err := s.call("list_history", func() error {
		call := srv.Users.History.List(user).
			StartHistoryId(cur.HistoryID).
			HistoryTypes("messageAdded", "labelAdded", "labelRemoved")
		if cur.PageToken != "" {
			call = call.PageToken(cur.PageToken)
		}
		var err error
		resp, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	add := func(m *gmail.Message) {
		if m == nil || m.Id == "" || seen[m.Id] {
			return
		}
		seen[m.Id] = true
		ids = append(ids, m.Id)
	}
	for _, h := range resp.History {
		for _, a := range h.MessagesAdded {
			add(a.Message)
		}
		for _, l := range h.LabelsAdded {
			add(l.Message)
		}
		for _, l := range h.LabelsRemoved {
			add(l.Message)
		}
	}

	records, err := s.fetchMessages(ctx, srv, ids)
	if err != nil {
		return nil, err
	}

	page := &emaildomain.UpdatedRecordsPage{Records: records}
	if resp.HistoryId > 0 {
		page.NextDeltaToken = encodeCursor(cursor{Mode: modeHistory, HistoryID: resp.HistoryId})
	}
	if resp.NextPageToken != "" {
		next := cur
		next.PageToken = resp.NextPageToken
		page.NextPageToken = encodeCursor(next)
	}
	return page, nil
}

// ListFolderPage lists one page of inbox or sent, by label id or by search query
func (s *Service) ListFolderPage(ctx context.Context, accessToken string, req emaildomain.FolderPageRequest) (*emaildomain.FolderPage, error) {
	srv, err := s.getGmailService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var resp *gmail.ListMessagesResponse
	err = s.call("list_folder_page", func() error {
		call := srv.Users.Messages.List(user)
		if req.Strategy == emaildomain.StrategyClassification {
			call = call.Q("in:" + string(req.Folder))
		} else {
			call = call.LabelIds(strings.ToUpper(string(req.Folder)))
		}
		if req.PageSize > 0 {
			call = call.MaxResults(int64(req.PageSize))
		}
		if req.PageToken != "" {
			call = call.PageToken(req.PageToken)
		}
		var err error
		resp, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	records, err := s.fetchMessages(ctx, srv, ids)
	if err != nil {
		return nil, err
	}
	return &emaildomain.FolderPage{Records: records, NextPageToken: resp.NextPageToken}, nil
}

// fetchMessages loads full messages in parallel, keeping list order.
// Messages deleted between list and get are skipped.
func (s *Service) fetchMessages(ctx context.Context, srv *gmail.Service, ids []string) ([]emaildomain.Message, error) {
	fetched := make([]*gmail.Message, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentGets)
	for i, id := range ids {
		g.Go(func() error {
			err := s.call("get_message", func() error {
				msg, err := srv.Users.Messages.Get(user, id).Format("full").Context(gctx).Do()
				fetched[i] = msg
				return err
			})
			var pe *emaildomain.ProviderError
			if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
				s.log.WithField("email_id", id).Debug("Message vanished before fetch")
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]emaildomain.Message, 0, len(fetched))
	for _, msg := range fetched {
		if msg != nil {
			out = append(out, convertMessage(msg))
		}
	}
	return out, nil
}

func convertMessage(msg *gmail.Message) emaildomain.Message {
	var h mail.Header
	if msg.Payload != nil {
		for _, hdr := range msg.Payload.Headers {
			h.Add(hdr.Name, hdr.Value)
		}
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	labels, classifications, keywords := mapLabels(msg.LabelIds)

	out := emaildomain.Message{
		ID:                 msg.Id,
		ThreadID:           msg.ThreadId,
		InternetMessageID:  strings.TrimSpace(h.Get("Message-Id")),
		Subject:            subject,
		To:                 addressList(&h, "To"),
		Cc:                 addressList(&h, "Cc"),
		Bcc:                addressList(&h, "Bcc"),
		ReplyTo:            addressList(&h, "Reply-To"),
		SysLabels:          labels,
		SysClassifications: classifications,
		Keywords:           keywords,
		InReplyTo:          strings.TrimSpace(h.Get("In-Reply-To")),
		References:         strings.TrimSpace(h.Get("References")),
		BodySnippet:        msg.Snippet,
	}
	if from := addressList(&h, "From"); len(from) > 0 {
		out.From = from[0]
	}
	if sent, err := h.Date(); err == nil {
		out.SentAt = sent.UTC()
	}
	if msg.InternalDate > 0 {
		out.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		out.Body = getEmailBody(msg.Payload)
		out.Attachments = getAttachments(msg.Payload)
	}
	out.HasAttachments = len(out.Attachments) > 0
	return out
}

func addressList(h *mail.Header, key string) []emaildomain.Address {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]emaildomain.Address, 0, len(list))
	for _, a := range list {
		out = append(out, emaildomain.Address{Name: a.Name, Address: a.Address})
	}
	return out
}

var systemLabels = map[string]string{
	"INBOX":     emaildomain.LabelInbox,
	"SENT":      emaildomain.LabelSent,
	"DRAFT":     emaildomain.LabelDraft,
	"IMPORTANT": emaildomain.LabelImportant,
	"UNREAD":    emaildomain.LabelUnread,
	"STARRED":   emaildomain.LabelFlagged,
	"SPAM":      emaildomain.LabelSpam,
	"TRASH":     emaildomain.LabelTrash,
}

// mapLabels splits Gmail label ids into system labels, CATEGORY_* classifications
// and user labels, which become keywords
func mapLabels(ids []string) (labels, classifications, keywords []string) {
	for _, id := range ids {
		if l, ok := systemLabels[id]; ok {
			labels = append(labels, l)
			continue
		}
		if c, ok := strings.CutPrefix(id, "CATEGORY_"); ok {
			classifications = append(classifications, strings.ToLower(c))
			continue
		}
		if id == "CHAT" {
			continue
		}
		keywords = append(keywords, id)
	}
	return labels, classifications, keywords
}

func decodeBody(data string) (string, bool) {
	if data == "" {
		return "", false
	}
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	return "", false
}

// getEmailBody returns the plain text body, falling back to HTML with tags stripped
func getEmailBody(payload *gmail.MessagePart) string {
	var plainBody, htmlBody string

	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part.Filename == "" && part.Body != nil {
			if text, ok := decodeBody(part.Body.Data); ok {
				switch {
				case part.MimeType == "text/plain" && plainBody == "":
					plainBody = text
				case part.MimeType == "text/html" && htmlBody == "":
					htmlBody = text
				}
			}
		}
		for _, p := range part.Parts {
			walk(p)
		}
	}
	walk(payload)

	if plainBody != "" {
		return plainBody
	}
	if htmlBody == "" {
		return ""
	}
	text := htmlTag.ReplaceAllString(htmlBody, " ")
	text = strings.NewReplacer("&nbsp;", " ", "&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", "\"").Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

func getAttachments(payload *gmail.MessagePart) []emaildomain.MessageAttachment {
	var attachments []emaildomain.MessageAttachment

	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				contentID := strings.Trim(getHeader(part.Headers, "Content-ID"), "<>")
				disposition := strings.ToLower(getHeader(part.Headers, "Content-Disposition"))
				attachments = append(attachments, emaildomain.MessageAttachment{
					ID:        part.Body.AttachmentId,
					Name:      part.Filename,
					MimeType:  part.MimeType,
					Size:      part.Body.Size,
					Inline:    strings.HasPrefix(disposition, "inline"),
					ContentID: contentID,
				})
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)
	return attachments
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}
