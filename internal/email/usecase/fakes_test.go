package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	accountdomain "mailcore-backend/internal/account/domain"
	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/internal/email/repository"

	"github.com/lib/pq"
)

// --- address registry ---

type fakeAddressRepo struct {
	mu      sync.Mutex
	rows    map[string]*emaildomain.EmailAddress // key: account|address
	failFor string
	calls   int
}

func newFakeAddressRepo() *fakeAddressRepo {
	return &fakeAddressRepo{rows: make(map[string]*emaildomain.EmailAddress)}
}

func (r *fakeAddressRepo) Upsert(ctx context.Context, accountID, address, name string) (*emaildomain.EmailAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failFor != "" && address == r.failFor {
		return nil, errors.New("address store unavailable")
	}
	key := accountID + "|" + address
	row, ok := r.rows[key]
	if !ok {
		row = &emaildomain.EmailAddress{
			ID:        fmt.Sprintf("addr-%d", len(r.rows)+1),
			AccountID: accountID,
			Address:   address,
			Name:      name,
		}
		r.rows[key] = row
	} else if name != "" {
		row.Name = name
	}
	cp := *row
	return &cp, nil
}

func (r *fakeAddressRepo) FindByAddress(ctx context.Context, accountID, address string) (*emaildomain.EmailAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[accountID+"|"+address]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeAddressRepo) FindByIDs(ctx context.Context, ids []string) ([]emaildomain.EmailAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []emaildomain.EmailAddress
	for _, row := range r.rows {
		if want[row.ID] {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAddressRepo) byID(id string) *emaildomain.EmailAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			cp := *row
			return &cp
		}
	}
	return nil
}

// --- threads ---

type fakeThreadRepo struct {
	mu             sync.Mutex
	threads        map[string]*emaildomain.Thread
	onUpdateStatus func(threadID string)
}

func newFakeThreadRepo() *fakeThreadRepo {
	return &fakeThreadRepo{threads: make(map[string]*emaildomain.Thread)}
}

func (r *fakeThreadRepo) Upsert(ctx context.Context, t *emaildomain.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.threads[t.ID]
	if !ok {
		cp := *t
		cp.ParticipantIDs = append(pq.StringArray{}, t.ParticipantIDs...)
		r.threads[t.ID] = &cp
		return nil
	}
	if !t.LastMessageDate.Before(existing.LastMessageDate) && t.Subject != "" {
		existing.Subject = t.Subject
	}
	set := make(map[string]bool)
	for _, p := range existing.ParticipantIDs {
		set[p] = true
	}
	for _, p := range t.ParticipantIDs {
		set[p] = true
	}
	merged := make(pq.StringArray, 0, len(set))
	for p := range set {
		merged = append(merged, p)
	}
	sort.Strings(merged)
	existing.ParticipantIDs = merged
	if t.LastMessageDate.After(existing.LastMessageDate) {
		existing.LastMessageDate = t.LastMessageDate
	}
	return nil
}

func (r *fakeThreadRepo) FindByID(ctx context.Context, id string) (*emaildomain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeThreadRepo) UpdateStatus(ctx context.Context, id string, status emaildomain.ThreadStatus) error {
	if r.onUpdateStatus != nil {
		r.onUpdateStatus(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return nil
	}
	t.DraftStatus, t.InboxStatus, t.SentStatus = status.Draft, status.Inbox, status.Sent
	return nil
}

func (r *fakeThreadRepo) ListIDsByAccount(ctx context.Context, accountID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, t := range r.threads {
		if t.AccountID == accountID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeThreadRepo) CountByStatus(ctx context.Context, accountID string) (*repository.FolderCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c repository.FolderCounts
	for _, t := range r.threads {
		if t.AccountID != accountID {
			continue
		}
		c.Total++
		switch {
		case t.DraftStatus:
			c.Draft++
		case t.InboxStatus:
			c.Inbox++
		case t.SentStatus:
			c.Sent++
		default:
			c.None++
		}
	}
	return &c, nil
}

func (r *fakeThreadRepo) status(id string) emaildomain.ThreadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return emaildomain.ThreadStatus{}
	}
	return t.Status()
}

// --- emails ---

type fakeEmailRepo struct {
	mu          sync.Mutex
	emails      map[string]*emaildomain.Email
	attachments map[string]emaildomain.Attachment
	addresses   *fakeAddressRepo
	textErr     error
	recentErr   error
	findErr     error
	onLabelSets func(threadID string)
}

func newFakeEmailRepo(addresses *fakeAddressRepo) *fakeEmailRepo {
	return &fakeEmailRepo{
		emails:      make(map[string]*emaildomain.Email),
		attachments: make(map[string]emaildomain.Attachment),
		addresses:   addresses,
	}
}

func (r *fakeEmailRepo) put(e emaildomain.Email) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := e
	r.emails[e.ID] = &cp
}

func (r *fakeEmailRepo) withFrom(e emaildomain.Email) emaildomain.Email {
	if e.From == nil && r.addresses != nil && e.FromID != "" {
		e.From = r.addresses.byID(e.FromID)
	}
	return e
}

func (r *fakeEmailRepo) Upsert(ctx context.Context, e *emaildomain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	cp.Summary = nil
	cp.Embedding = nil
	if existing, ok := r.emails[e.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	r.emails[e.ID] = &cp
	return nil
}

func (r *fakeEmailRepo) UpsertAttachments(ctx context.Context, atts []emaildomain.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range atts {
		r.attachments[a.ID] = a
	}
	return nil
}

func (r *fakeEmailRepo) FindByID(ctx context.Context, id string) (*emaildomain.Email, error) {
	r.mu.Lock()
	e, ok := r.emails[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	cp := r.withFrom(*e)
	return &cp, nil
}

func (r *fakeEmailRepo) FindByIDs(ctx context.Context, accountID string, ids []string) ([]emaildomain.Email, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []emaildomain.Email
	for _, id := range ids {
		r.mu.Lock()
		e, ok := r.emails[id]
		r.mu.Unlock()
		if ok && e.AccountID == accountID {
			out = append(out, r.withFrom(*e))
		}
	}
	return out, nil
}

func (r *fakeEmailRepo) ListThreadLabelSets(ctx context.Context, threadID string) ([]emaildomain.LabelSet, error) {
	if r.onLabelSets != nil {
		r.onLabelSets(threadID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var sets []emaildomain.LabelSet
	for _, e := range r.sortedLocked() {
		if e.ThreadID == threadID {
			sets = append(sets, emaildomain.LabelSet{SysLabels: e.SysLabels, SysClassifications: e.SysClassifications})
		}
	}
	return sets, nil
}

func (r *fakeEmailRepo) sortedLocked() []*emaildomain.Email {
	out := make([]*emaildomain.Email, 0, len(r.emails))
	for _, e := range r.emails {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *fakeEmailRepo) ListRecent(ctx context.Context, accountID string, limit int) ([]emaildomain.Email, error) {
	if r.recentErr != nil {
		return nil, r.recentErr
	}
	r.mu.Lock()
	sorted := r.sortedLocked()
	r.mu.Unlock()
	var out []emaildomain.Email
	for _, e := range sorted {
		if e.AccountID == accountID && len(out) < limit {
			out = append(out, r.withFrom(*e))
		}
	}
	return out, nil
}

func (r *fakeEmailRepo) FindTextCandidates(ctx context.Context, accountID string, tokens []string, limit int) ([]emaildomain.Email, error) {
	if r.textErr != nil {
		return nil, r.textErr
	}
	r.mu.Lock()
	sorted := r.sortedLocked()
	r.mu.Unlock()
	var out []emaildomain.Email
	for _, e := range sorted {
		if e.AccountID != accountID || len(out) >= limit {
			continue
		}
		summary := ""
		if e.Summary != nil {
			summary = *e.Summary
		}
		hay := strings.ToLower(e.Subject + "\n" + e.Body + "\n" + summary)
		match := false
		for _, tok := range tokens {
			if strings.Contains(hay, tok) {
				match = true
			}
			for _, k := range e.Keywords {
				if k == tok {
					match = true
				}
			}
		}
		if match {
			out = append(out, r.withFrom(*e))
		}
	}
	return out, nil
}

func (r *fakeEmailRepo) SaveSummaryAndEmbedding(ctx context.Context, emailID, summary string, embedding emaildomain.Vector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[emailID]
	if !ok {
		return nil
	}
	s := summary
	e.Summary = &s
	if embedding != nil {
		e.Embedding = append(emaildomain.Vector(nil), embedding...)
	}
	return nil
}

func (r *fakeEmailRepo) ListMissingSummary(ctx context.Context, accountID string, limit int) ([]emaildomain.Email, error) {
	r.mu.Lock()
	sorted := r.sortedLocked()
	r.mu.Unlock()
	var out []emaildomain.Email
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		if e.Summary != nil || (accountID != "" && e.AccountID != accountID) || len(out) >= limit {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (r *fakeEmailRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emails)
}

func (r *fakeEmailRepo) get(id string) *emaildomain.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// --- accounts ---

type fakeAccountRepo struct {
	mu             sync.Mutex
	accounts       map[string]*accountdomain.Account
	advanceCalls   int
	forceConflict  bool
	reconnectCalls int
}

func newFakeAccountRepo(accounts ...*accountdomain.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: make(map[string]*accountdomain.Account)}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) Create(ctx context.Context, a *accountdomain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
	return nil
}

func (r *fakeAccountRepo) FindByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	if a.NextDeltaToken != nil {
		tok := *a.NextDeltaToken
		cp.NextDeltaToken = &tok
	}
	return &cp, nil
}

func (r *fakeAccountRepo) ListConnected(ctx context.Context) ([]accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []accountdomain.Account
	for _, a := range r.accounts {
		if !a.NeedsReconnection {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAccountRepo) AdvanceCursor(ctx context.Context, accountID string, expectedVersion int64, token string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceCalls++
	a, ok := r.accounts[accountID]
	if !ok || r.forceConflict || a.CursorVersion != expectedVersion {
		return 0, accountdomain.ErrCursorConflict
	}
	tok := token
	a.NextDeltaToken = &tok
	a.CursorVersion++
	return a.CursorVersion, nil
}

func (r *fakeAccountRepo) MarkNeedsReconnection(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnectCalls++
	if a, ok := r.accounts[accountID]; ok {
		a.NeedsReconnection = true
	}
	return nil
}

func (r *fakeAccountRepo) UpdateToken(ctx context.Context, accountID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return accountdomain.ErrAccountNotFound
	}
	a.AccessToken = token
	a.NeedsReconnection = false
	return nil
}

func (r *fakeAccountRepo) snapshot(id string) accountdomain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.accounts[id]
}

// --- sync runs ---

type fakeSyncRunRepo struct {
	mu   sync.Mutex
	runs []*emaildomain.SyncRun
}

func (r *fakeSyncRunRepo) Start(ctx context.Context, accountID string, kind emaildomain.SyncKind) (*emaildomain.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := &emaildomain.SyncRun{
		ID:        fmt.Sprintf("run-%d", len(r.runs)+1),
		AccountID: accountID,
		Kind:      kind,
		Status:    emaildomain.SyncRunRunning,
		StartedAt: time.Now(),
	}
	r.runs = append(r.runs, run)
	return run, nil
}

func (r *fakeSyncRunRepo) Finish(ctx context.Context, run *emaildomain.SyncRun) error {
	now := time.Now()
	run.FinishedAt = &now
	return nil
}

func (r *fakeSyncRunRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]emaildomain.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emaildomain.SyncRun
	for i := len(r.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.runs[i].AccountID == accountID {
			out = append(out, *r.runs[i])
		}
	}
	return out, nil
}

func (r *fakeSyncRunRepo) last() *emaildomain.SyncRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runs) == 0 {
		return nil
	}
	return r.runs[len(r.runs)-1]
}

// --- provider ---

type fakeProvider struct {
	mu sync.Mutex

	notReadyFor int
	startErr    error
	startCalls  int
	startToken  string

	// updated-records pages keyed by "delta:<token>" or "page:<token>"
	pages      map[string]*emaildomain.UpdatedRecordsPage
	updatedErr map[string]error
	requests   []emaildomain.UpdatedRecordsRequest
	onRequest  func(key string)

	folderPages    map[string]*emaildomain.FolderPage // key: folder|strategy|pageToken
	folderErr      error
	folderRequests []emaildomain.FolderPageRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		startToken:  "start",
		pages:       make(map[string]*emaildomain.UpdatedRecordsPage),
		updatedErr:  make(map[string]error),
		folderPages: make(map[string]*emaildomain.FolderPage),
	}
}

func (p *fakeProvider) StartSync(ctx context.Context, token string, opts emaildomain.StartSyncOptions) (*emaildomain.StartSyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls++
	if p.startErr != nil {
		return nil, p.startErr
	}
	if p.startCalls <= p.notReadyFor {
		return &emaildomain.StartSyncResult{Ready: false}, nil
	}
	return &emaildomain.StartSyncResult{Ready: true, SyncUpdatedToken: p.startToken}, nil
}

func (p *fakeProvider) GetUpdatedRecords(ctx context.Context, token string, req emaildomain.UpdatedRecordsRequest) (*emaildomain.UpdatedRecordsPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	key := "delta:" + req.DeltaToken
	if req.PageToken != "" {
		key = "page:" + req.PageToken
	}
	if p.onRequest != nil {
		p.onRequest(key)
	}
	if err, ok := p.updatedErr[key]; ok {
		return nil, err
	}
	page, ok := p.pages[key]
	if !ok {
		return &emaildomain.UpdatedRecordsPage{}, nil
	}
	return page, nil
}

func (p *fakeProvider) ListFolderPage(ctx context.Context, token string, req emaildomain.FolderPageRequest) (*emaildomain.FolderPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.folderRequests = append(p.folderRequests, req)
	if p.folderErr != nil {
		return nil, p.folderErr
	}
	page, ok := p.folderPages[fmt.Sprintf("%s|%s|%s", req.Folder, req.Strategy, req.PageToken)]
	if !ok {
		return &emaildomain.FolderPage{}, nil
	}
	return page, nil
}

// --- AI ---

type fakeSummarizer struct {
	mu      sync.Mutex
	out     string
	err     error
	prompts []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

// conceptEmbedder maps known words onto fixed dimensions so cosine distance is predictable
type conceptEmbedder struct {
	err      error
	width    int
	concepts map[string][]int
}

func newConceptEmbedder() *conceptEmbedder {
	return &conceptEmbedder{
		width: emaildomain.EmbeddingDimensions,
		concepts: map[string][]int{
			"flight":       {0},
			"itinerary":    {0},
			"airline":      {0},
			"booking":      {0, 1},
			"confirmation": {1},
			"reservation":  {1},
			"grocery":      {2},
			"milk":         {2},
			"list":         {2},
		},
	}
}

func (e *conceptEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, e.width)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		for _, dim := range e.concepts[word] {
			if dim < e.width {
				vec[dim]++
			}
		}
	}
	return vec, nil
}

// memoryIndex runs exact cosine search over the fake email store
type memoryIndex struct {
	emails *fakeEmailRepo
	err    error
}

func (x *memoryIndex) Nearest(ctx context.Context, accountID string, query emaildomain.Vector, limit int) ([]emaildomain.VectorMatch, error) {
	if x.err != nil {
		return nil, x.err
	}
	x.emails.mu.Lock()
	var matches []emaildomain.VectorMatch
	for _, e := range x.emails.emails {
		if e.AccountID != accountID || e.Embedding == nil {
			continue
		}
		matches = append(matches, emaildomain.VectorMatch{EmailID: e.ID, Distance: cosineDistance(query, e.Embedding)})
	}
	x.emails.mu.Unlock()
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].EmailID < matches[j].EmailID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// cosineDistance matches pgvector's <=> operator; NaN when either side has no magnitude
func cosineDistance(a, b emaildomain.Vector) float64 {
	if len(a) != len(b) {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

type recordingMirror struct {
	mu  sync.Mutex
	ids []string
}

func (m *recordingMirror) Upsert(ctx context.Context, e *emaildomain.Email, v emaildomain.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, e.ID)
	return nil
}

type countingEnqueuer struct {
	mu   sync.Mutex
	jobs []EmbeddingJob
}

func (c *countingEnqueuer) Enqueue(job EmbeddingJob) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	return true
}

func (c *countingEnqueuer) Backfill(ctx context.Context, accountID string) (int, error) {
	return 0, nil
}

// --- builders ---

func testMessage(id, threadID string, labels ...string) emaildomain.Message {
	return emaildomain.Message{
		ID:         id,
		ThreadID:   threadID,
		Subject:    "Subject " + id,
		From:       emaildomain.Address{Name: "Alice", Address: "alice@example.com"},
		To:         []emaildomain.Address{{Address: "bob@example.com"}},
		SysLabels:  labels,
		ReceivedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Body:       "body of " + id,
	}
}

type persistenceFixture struct {
	addresses *fakeAddressRepo
	emails    *fakeEmailRepo
	threads   *fakeThreadRepo
	enqueuer  *countingEnqueuer
	p         *Persistence
}

func newPersistenceFixture() *persistenceFixture {
	addresses := newFakeAddressRepo()
	emails := newFakeEmailRepo(addresses)
	threads := newFakeThreadRepo()
	enq := &countingEnqueuer{}
	p := NewPersistence(NewAddressRegistry(addresses, nil), emails, threads, enq, 5, nil)
	return &persistenceFixture{addresses: addresses, emails: emails, threads: threads, enqueuer: enq, p: p}
}
