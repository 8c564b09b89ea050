package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of an error response ends up in the error text
const maxErrorBody = 512

// RESTProvider talks to a hosted mail sync API over HTTP
type RESTProvider struct {
	baseURL   string
	timeout   time.Duration
	transport http.RoundTripper
	breaker   *Breaker
	log       *logrus.Entry
}

// NewRESTProvider creates the REST sync adapter
func NewRESTProvider(baseURL string, timeout time.Duration, log logrus.FieldLogger) *RESTProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   timeout,
		transport: http.DefaultTransport,
		breaker:   NewBreaker("rest-provider", log),
		log:       logger.Component(log, "rest_provider"),
	}
}

// client returns an HTTP client that signs requests with the account token
func (p *RESTProvider) client(token string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &http.Client{
		Timeout:   p.timeout,
		Transport: &oauth2.Transport{Source: src, Base: p.transport},
	}
}

type wireAddress struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type wireAttachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	Inline    bool   `json:"isInline"`
	ContentID string `json:"contentId"`
}

type wireRecord struct {
	ID                 string           `json:"id"`
	ThreadID           string           `json:"threadId"`
	MessageID          string           `json:"messageId"`
	Subject            string           `json:"subject"`
	From               []wireAddress    `json:"from"`
	To                 []wireAddress    `json:"to"`
	Cc                 []wireAddress    `json:"cc"`
	Bcc                []wireAddress    `json:"bcc"`
	ReplyTo            []wireAddress    `json:"replyTo"`
	SysLabels          []string         `json:"sysLabels"`
	SysClassifications []string         `json:"sysClassifications"`
	Keywords           []string         `json:"keywords"`
	SentDate           string           `json:"sentDate"`
	ReceivedDate       string           `json:"receivedDate"`
	InReplyTo          string           `json:"inReplyTo"`
	References         string           `json:"references"`
	HasAttachments     bool             `json:"hasAttachments"`
	Body               string           `json:"body"`
	BodySnippet        string           `json:"bodySnippet"`
	Attachments        []wireAttachment `json:"attachments"`
}

type startSyncRequest struct {
	DaysWithin int    `json:"daysWithin,omitempty"`
	Folder     string `json:"folder,omitempty"`
}

type startSyncResponse struct {
	Ready            bool   `json:"ready"`
	SyncUpdatedToken string `json:"syncUpdatedToken"`
}

type recordsResponse struct {
	Records        []wireRecord `json:"records"`
	NextPageToken  string       `json:"nextPageToken"`
	NextDeltaToken string       `json:"nextDeltaToken"`
}

// StartSync asks the provider to prepare a full sync. The call is idempotent.
func (p *RESTProvider) StartSync(ctx context.Context, token string, opts emaildomain.StartSyncOptions) (*emaildomain.StartSyncResult, error) {
	body, err := json.Marshal(startSyncRequest{DaysWithin: opts.DaysWithin, Folder: string(opts.Folder)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start sync request: %w", err)
	}
	var resp startSyncResponse
	if err := p.do(ctx, token, "start_sync", http.MethodPost, "/email/sync", nil, body, &resp); err != nil {
		return nil, err
	}
	return &emaildomain.StartSyncResult{Ready: resp.Ready, SyncUpdatedToken: resp.SyncUpdatedToken}, nil
}

// GetUpdatedRecords fetches one page of the updated-records feed
func (p *RESTProvider) GetUpdatedRecords(ctx context.Context, token string, req emaildomain.UpdatedRecordsRequest) (*emaildomain.UpdatedRecordsPage, error) {
	q := url.Values{}
	if req.PageToken != "" {
		q.Set("pageToken", req.PageToken)
	} else {
		q.Set("deltaToken", req.DeltaToken)
	}
	var resp recordsResponse
	if err := p.do(ctx, token, "get_updated_records", http.MethodGet, "/email/sync/updated", q, nil, &resp); err != nil {
		return nil, err
	}
	return &emaildomain.UpdatedRecordsPage{
		Records:        convertRecords(resp.Records),
		NextPageToken:  resp.NextPageToken,
		NextDeltaToken: resp.NextDeltaToken,
	}, nil
}

// ListFolderPage lists one page of a folder, by label or by classification
func (p *RESTProvider) ListFolderPage(ctx context.Context, token string, req emaildomain.FolderPageRequest) (*emaildomain.FolderPage, error) {
	q := url.Values{}
	switch req.Strategy {
	case emaildomain.StrategyClassification:
		q.Set("sysClassifications", string(req.Folder))
	default:
		q.Set("sysLabels", string(req.Folder))
	}
	if req.PageToken != "" {
		q.Set("pageToken", req.PageToken)
	}
	if req.PageSize > 0 {
		q.Set("limit", strconv.Itoa(req.PageSize))
	}
	var resp recordsResponse
	if err := p.do(ctx, token, "list_folder_page", http.MethodGet, "/email/messages", q, nil, &resp); err != nil {
		return nil, err
	}
	return &emaildomain.FolderPage{
		Records:       convertRecords(resp.Records),
		NextPageToken: resp.NextPageToken,
	}, nil
}

func (p *RESTProvider) do(ctx context.Context, token, op, method, path string, query url.Values, body []byte, out interface{}) error {
	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return p.breaker.Do(op, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return emaildomain.NewProviderError(op, 0, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.client(token).Do(req)
		if err != nil {
			return emaildomain.NewProviderError(op, 0, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			p.log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode}).Warn("Provider call failed")
			return emaildomain.NewProviderError(op, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(snippet))))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return emaildomain.NewProviderError(op, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}

// convertRecords maps wire records to normalized messages. Validation is left
// to the sync client so malformed records can be quarantined and counted.
func convertRecords(records []wireRecord) []emaildomain.Message {
	out := make([]emaildomain.Message, 0, len(records))
	for _, r := range records {
		msg := emaildomain.Message{
			ID:                 r.ID,
			ThreadID:           r.ThreadID,
			InternetMessageID:  r.MessageID,
			Subject:            r.Subject,
			To:                 convertAddresses(r.To),
			Cc:                 convertAddresses(r.Cc),
			Bcc:                convertAddresses(r.Bcc),
			ReplyTo:            convertAddresses(r.ReplyTo),
			SysLabels:          lowerAll(r.SysLabels),
			SysClassifications: lowerAll(r.SysClassifications),
			Keywords:           r.Keywords,
			SentAt:             parseTime(r.SentDate),
			ReceivedAt:         parseTime(r.ReceivedDate),
			InReplyTo:          r.InReplyTo,
			References:         r.References,
			HasAttachments:     r.HasAttachments || len(r.Attachments) > 0,
			Body:               r.Body,
			BodySnippet:        r.BodySnippet,
		}
		if len(r.From) > 0 {
			msg.From = emaildomain.Address{Name: r.From[0].Name, Address: r.From[0].Email}
		}
		for _, a := range r.Attachments {
			msg.Attachments = append(msg.Attachments, emaildomain.MessageAttachment{
				ID:        a.ID,
				Name:      a.Filename,
				MimeType:  a.MimeType,
				Size:      a.Size,
				Inline:    a.Inline,
				ContentID: a.ContentID,
			})
		}
		out = append(out, msg)
	}
	return out
}

func convertAddresses(in []wireAddress) []emaildomain.Address {
	if len(in) == 0 {
		return nil
	}
	out := make([]emaildomain.Address, 0, len(in))
	for _, a := range in {
		if strings.TrimSpace(a.Email) == "" {
			continue
		}
		out = append(out, emaildomain.Address{Name: a.Name, Address: a.Email})
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
