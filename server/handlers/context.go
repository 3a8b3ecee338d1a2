package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/config"
	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/knowledge"
	"github.com/teilomillet/chatguard/server/metrics"
	"github.com/teilomillet/chatguard/server/middleware"
	"github.com/teilomillet/chatguard/server/validation"
)

// ContextIndex stores and searches uploaded reference text.
type ContextIndex interface {
	Add(ctx context.Context, userID, source, text string) (int, error)
	Search(ctx context.Context, userID, query string, topK int) ([]knowledge.Result, error)
}

// ContextHandler serves file uploads and context search.
type ContextHandler struct {
	index   ContextIndex
	cfg     config.UploadConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewContextHandler creates a ContextHandler. m may be nil.
func NewContextHandler(index ContextIndex, cfg config.UploadConfig, m *metrics.Metrics, logger *zap.Logger) *ContextHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}
	if cfg.SearchTopK <= 0 {
		cfg.SearchTopK = 5
	}
	return &ContextHandler{index: index, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	Status        string `json:"status"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

// Upload handles POST /api/context/upload, a multipart form with the
// fields user_id and file.
func (h *ContextHandler) Upload(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	badRequest := func(msg string, details map[string]interface{}) {
		fail(w, r, h.logger, errors.NewError(errors.BadRequestError, msg, http.StatusBadRequest, requestID, details, nil))
	}

	// Room for the form fields around the file part.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(h.cfg.MaxFileSize); err != nil {
		badRequest("Invalid multipart form", map[string]interface{}{"max_bytes": h.cfg.MaxFileSize})
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID, authErr := resolveUser(r, r.FormValue("user_id"))
	if authErr != nil {
		fail(w, r, h.logger, authErr)
		return
	}
	if verr := validation.Check(requestID, &validation.HistoryQuery{UserID: userID}); verr != nil {
		fail(w, r, h.logger, verr)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest("File is required", map[string]interface{}{"field": "file"})
		return
	}
	defer file.Close()

	if !knowledge.Allowed(header.Filename, h.cfg.AllowedExtensions) {
		h.logger.Warn("Rejected upload: unsupported type",
			zap.String("user_id", userID),
			zap.String("filename", header.Filename),
		)
		badRequest("Unsupported file type", map[string]interface{}{
			"allowed_extensions": h.cfg.AllowedExtensions,
		})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxFileSize+1))
	if err != nil {
		fail(w, r, h.logger, errors.NewInternalError(requestID, fmt.Errorf("read upload: %w", err)))
		return
	}
	if int64(len(data)) > h.cfg.MaxFileSize {
		badRequest("File too large", map[string]interface{}{"max_bytes": h.cfg.MaxFileSize})
		return
	}

	stored := knowledge.StoredName(userID, header.Filename, h.now().UTC())
	if _, err := knowledge.Save(h.cfg.Dir, stored, data); err != nil {
		fail(w, r, h.logger, errors.NewInternalError(requestID, err))
		return
	}

	text, err := knowledge.Extract(header.Filename, data)
	if err != nil {
		h.logger.Warn("Extraction failed",
			zap.String("user_id", userID),
			zap.String("filename", stored),
			zap.Error(err),
		)
		badRequest("Extraction failed", map[string]interface{}{"filename": header.Filename})
		return
	}

	n, err := h.index.Add(r.Context(), userID, stored, text)
	if err != nil {
		fail(w, r, h.logger, errors.NewStorageError(requestID, fmt.Errorf("index %s: %w", stored, err)))
		return
	}
	if h.metrics != nil {
		h.metrics.ChunksIndexed.Add(float64(n))
	}

	h.logger.Info("File uploaded and indexed",
		zap.String("user_id", userID),
		zap.String("filename", stored),
		zap.Int("chunks", n),
	)
	writeJSON(w, h.logger, http.StatusOK, UploadResponse{Status: "ok", ChunksIndexed: n})
}

// SearchResponse is the body of POST /api/context/search.
type SearchResponse struct {
	Results []knowledge.Result `json:"results"`
}

// Search handles POST /api/context/search.
func (h *ContextHandler) Search(w http.ResponseWriter, r *http.Request) {
	body, err := validation.Body[validation.SearchRequest](r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	userID, authErr := resolveUser(r, body.UserID)
	if authErr != nil {
		fail(w, r, h.logger, authErr)
		return
	}

	topK := body.TopK
	if topK <= 0 {
		topK = h.cfg.SearchTopK
	}
	results, err := h.index.Search(r.Context(), userID, body.Query, topK)
	if err != nil {
		fail(w, r, h.logger, errors.NewStorageError(middleware.GetRequestID(r.Context()), err))
		return
	}
	if results == nil {
		results = []knowledge.Result{}
	}
	writeJSON(w, h.logger, http.StatusOK, SearchResponse{Results: results})
}
