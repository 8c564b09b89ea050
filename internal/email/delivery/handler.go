package delivery

import (
	"errors"
	"net/http"
	"strconv"

	authdelivery "mailcore-backend/internal/auth/delivery"
	emaildomain "mailcore-backend/internal/email/domain"
	emaildto "mailcore-backend/internal/email/dto"
	"mailcore-backend/internal/email/usecase"
	"mailcore-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type EmailHandler struct {
	syncUsecase      usecase.SyncUsecase
	searchUsecase    usecase.SearchUsecase
	embeddingUsecase usecase.EmbeddingUsecase
	log              *logrus.Entry
}

func NewEmailHandler(
	syncUsecase usecase.SyncUsecase,
	searchUsecase usecase.SearchUsecase,
	embeddingUsecase usecase.EmbeddingUsecase,
	log logrus.FieldLogger,
) *EmailHandler {
	return &EmailHandler{
		syncUsecase:      syncUsecase,
		searchUsecase:    searchUsecase,
		embeddingUsecase: embeddingUsecase,
		log:              logger.Component(log, "email_handler"),
	}
}

// respondError maps usecase errors to a status code and the error kind
func (h *EmailHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, emaildomain.ErrInvalidContinuation), errors.Is(err, emaildomain.ErrUnsupportedFolder):
		c.JSON(http.StatusBadRequest, emaildto.ErrorResponse{Error: err.Error(), Kind: "invalid_request"})
		return
	case errors.Is(err, emaildomain.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, emaildto.ErrorResponse{Error: "account not found", Kind: "not_found"})
		return
	}

	kind := emaildomain.ClassifySyncError(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("account_id", authdelivery.AccountID(c)).Error("Request failed")
	}
	c.JSON(status, emaildto.ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

func parseFolder(raw string) (emaildomain.Folder, bool) {
	f := emaildomain.Folder(raw)
	return f, raw == "" || f.Valid()
}

func parseLimit(c *gin.Context, def int) int {
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

// POST /api/sync
func (h *EmailHandler) Sync(c *gin.Context) {
	var req emaildto.SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, emaildto.ErrorResponse{Error: err.Error(), Kind: "invalid_request"})
			return
		}
	}
	folder, ok := parseFolder(req.Folder)
	if !ok {
		h.respondError(c, emaildomain.ErrUnsupportedFolder)
		return
	}

	result, err := h.syncUsecase.Sync(c.Request.Context(), authdelivery.AccountID(c), req.ForceFullSync, folder)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/sync/folder
func (h *EmailHandler) SyncFolder(c *gin.Context) {
	var req emaildto.FolderSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, emaildto.ErrorResponse{Error: err.Error(), Kind: "invalid_request"})
		return
	}

	result, err := h.syncUsecase.SyncFolderPage(c.Request.Context(), authdelivery.AccountID(c), emaildomain.Folder(req.Folder), req.ContinuationToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/sync/reconcile
func (h *EmailHandler) Reconcile(c *gin.Context) {
	report, err := h.syncUsecase.Reconcile(c.Request.Context(), authdelivery.AccountID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/sync/runs
func (h *EmailHandler) ListRuns(c *gin.Context) {
	runs, err := h.syncUsecase.ListRuns(c.Request.Context(), authdelivery.AccountID(c), parseLimit(c, 20))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if runs == nil {
		runs = []emaildomain.SyncRun{}
	}
	c.JSON(http.StatusOK, emaildto.SyncRunsResponse{Runs: runs})
}

// GET /api/search
func (h *EmailHandler) Search(c *gin.Context) {
	query := c.Query("q")
	results, err := h.searchUsecase.Search(c.Request.Context(), query, authdelivery.AccountID(c), parseLimit(c, usecase.DefaultSearchLimit))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if results == nil {
		results = []usecase.SearchResult{}
	}
	c.JSON(http.StatusOK, emaildto.SearchResponse{Query: query, Results: results, Count: len(results)})
}

// POST /api/embeddings/backfill
func (h *EmailHandler) Backfill(c *gin.Context) {
	queued, err := h.embeddingUsecase.Backfill(c.Request.Context(), authdelivery.AccountID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, emaildto.BackfillResponse{Queued: queued})
}
