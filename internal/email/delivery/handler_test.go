package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	emaildomain "mailcore-backend/internal/email/domain"
	emaildto "mailcore-backend/internal/email/dto"
	"mailcore-backend/internal/email/usecase"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

type stubSync struct {
	err         error
	gotAccount  string
	gotForce    bool
	gotFolder   emaildomain.Folder
	gotContinue string
	runs        []emaildomain.SyncRun
	gotLimit    int
}

func (s *stubSync) Sync(ctx context.Context, accountID string, force bool, folder emaildomain.Folder) (*usecase.SyncResult, error) {
	s.gotAccount, s.gotForce, s.gotFolder = accountID, force, folder
	if s.err != nil {
		return nil, s.err
	}
	return &usecase.SyncResult{Kind: emaildomain.SyncKindDelta, Fetched: 3, Succeeded: 3}, nil
}

func (s *stubSync) SyncFolderPage(ctx context.Context, accountID string, folder emaildomain.Folder, continuation string) (*usecase.FolderSyncResult, error) {
	s.gotAccount, s.gotFolder, s.gotContinue = accountID, folder, continuation
	if s.err != nil {
		return nil, s.err
	}
	return &usecase.FolderSyncResult{Folder: folder, ContinuationToken: "next", HasMore: true}, nil
}

func (s *stubSync) Reconcile(ctx context.Context, accountID string) (*usecase.ReconcileReport, error) {
	s.gotAccount = accountID
	return &usecase.ReconcileReport{Threads: 4, Updated: 1}, s.err
}

func (s *stubSync) ListRuns(ctx context.Context, accountID string, limit int) ([]emaildomain.SyncRun, error) {
	s.gotAccount, s.gotLimit = accountID, limit
	return s.runs, s.err
}

func (s *stubSync) SyncAllAccounts(ctx context.Context) {}

type stubSearch struct {
	gotQuery string
	gotLimit int
	results  []usecase.SearchResult
}

func (s *stubSearch) Search(ctx context.Context, query, accountID string, limit int) ([]usecase.SearchResult, error) {
	s.gotQuery, s.gotLimit = query, limit
	return s.results, nil
}

type stubEmbeddings struct{ queued int }

func (s *stubEmbeddings) Enqueue(job usecase.EmbeddingJob) bool { return true }
func (s *stubEmbeddings) Backfill(ctx context.Context, accountID string) (int, error) {
	return s.queued, nil
}

func newTestRouter(h *EmailHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set("account_id", "acc-1")
		c.Next()
	})
	api.POST("/sync", h.Sync)
	api.POST("/sync/folder", h.SyncFolder)
	api.POST("/sync/reconcile", h.Reconcile)
	api.GET("/sync/runs", h.ListRuns)
	api.GET("/search", h.Search)
	api.POST("/embeddings/backfill", h.Backfill)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) emaildto.ErrorResponse {
	t.Helper()
	var e emaildto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	return e
}

func TestSyncPassesRequest(t *testing.T) {
	sync := &stubSync{}
	r := newTestRouter(NewEmailHandler(sync, &stubSearch{}, &stubEmbeddings{}, nil))

	w := do(r, http.MethodPost, "/api/sync", `{"force_full_sync":true,"folder":"sent"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if sync.gotAccount != "acc-1" || !sync.gotForce || sync.gotFolder != emaildomain.FolderSent {
		t.Errorf("got %+v", sync)
	}

	if w := do(r, http.MethodPost, "/api/sync", ""); w.Code != http.StatusOK {
		t.Errorf("empty body status = %d", w.Code)
	}
}

func TestSyncErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"reconnect", fmt.Errorf("delta sync: %w", emaildomain.ErrNeedsReconnection), http.StatusUnauthorized, "needs_reconnection"},
		{"in progress", emaildomain.ErrSyncInProgress, http.StatusConflict, "in_progress"},
		{"transient", emaildomain.NewProviderError("get_updated_records", http.StatusBadGateway, nil), http.StatusServiceUnavailable, "transient"},
		{"not found", emaildomain.ErrAccountNotFound, http.StatusNotFound, "not_found"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(NewEmailHandler(&stubSync{err: tt.err}, &stubSearch{}, &stubEmbeddings{}, nil))
			w := do(r, http.MethodPost, "/api/sync", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if e := decodeError(t, w); e.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", e.Kind, tt.wantKind)
			}
		})
	}
}

func TestSyncRejectsUnknownFolder(t *testing.T) {
	sync := &stubSync{}
	r := newTestRouter(NewEmailHandler(sync, &stubSearch{}, &stubEmbeddings{}, nil))
	w := do(r, http.MethodPost, "/api/sync", `{"folder":"trash"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if sync.gotAccount != "" {
		t.Error("usecase must not be called")
	}
}

func TestSyncFolder(t *testing.T) {
	sync := &stubSync{}
	r := newTestRouter(NewEmailHandler(sync, &stubSearch{}, &stubEmbeddings{}, nil))

	w := do(r, http.MethodPost, "/api/sync/folder", `{"folder":"inbox","continuation_token":"abc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res usecase.FolderSyncResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.HasMore || res.ContinuationToken != "next" || sync.gotContinue != "abc" {
		t.Errorf("res = %+v", res)
	}

	if w := do(r, http.MethodPost, "/api/sync/folder", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing folder status = %d", w.Code)
	}

	bad := newTestRouter(NewEmailHandler(&stubSync{err: emaildomain.ErrInvalidContinuation}, &stubSearch{}, &stubEmbeddings{}, nil))
	if w := do(bad, http.MethodPost, "/api/sync/folder", `{"folder":"sent","continuation_token":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid continuation status = %d", w.Code)
	}
}

func TestListRunsReturnsEmptyArray(t *testing.T) {
	sync := &stubSync{}
	r := newTestRouter(NewEmailHandler(sync, &stubSearch{}, &stubEmbeddings{}, nil))
	w := do(r, http.MethodGet, "/api/sync/runs?limit=5", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"runs":[]`) {
		t.Errorf("status = %d body = %s", w.Code, w.Body)
	}
	if sync.gotLimit != 5 {
		t.Errorf("limit = %d", sync.gotLimit)
	}
}

func TestSearch(t *testing.T) {
	search := &stubSearch{results: []usecase.SearchResult{{Email: &emaildomain.Email{ID: "e1"}, RelevanceScore: 0.9}}}
	r := newTestRouter(NewEmailHandler(&stubSync{}, search, &stubEmbeddings{}, nil))

	w := do(r, http.MethodGet, "/api/search?q=flight+booking&limit=abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res emaildto.SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 || res.Query != "flight booking" {
		t.Errorf("res = %+v", res)
	}
	if search.gotLimit != usecase.DefaultSearchLimit {
		t.Errorf("bad limit should fall back to default, got %d", search.gotLimit)
	}

	empty := newTestRouter(NewEmailHandler(&stubSync{}, &stubSearch{}, &stubEmbeddings{}, nil))
	if w := do(empty, http.MethodGet, "/api/search?q=zzz", ""); !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestBackfill(t *testing.T) {
	r := newTestRouter(NewEmailHandler(&stubSync{}, &stubSearch{}, &stubEmbeddings{queued: 7}, nil))
	w := do(r, http.MethodPost, "/api/embeddings/backfill", "")
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"queued":7`) {
		t.Errorf("status = %d body = %s", w.Code, w.Body)
	}
}
