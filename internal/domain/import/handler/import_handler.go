// Package handler exposes the ingestion pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/classifier"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
)

const (
	fileField = "file"

	// DefaultMaxUploadBytes bounds a whole multipart request.
	DefaultMaxUploadBytes = 64 << 20
)

// Ingester runs submissions through the pipeline.
type Ingester interface {
	IngestBatch(ctx context.Context, subs []importservice.Submission) []importservice.Outcome
}

// RuleCatalog holds the active statement-type rules.
type RuleCatalog interface {
	Current() *classifier.Classifier
	Refresh(ctx context.Context) error
}

// PluginCatalog lists and reloads adapters.
type PluginCatalog interface {
	List() []plugin.Info
	Reload() error
}

// ImportHandler serves statement uploads and catalog endpoints.
type ImportHandler struct {
	ingester       Ingester
	rules          RuleCatalog
	plugins        PluginCatalog
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(ingester Ingester, rules RuleCatalog, plugins PluginCatalog, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		ingester:       ingester,
		rules:          rules,
		plugins:        plugins,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         logger.With(slog.String("component", "import_handler")),
	}
}

// WithMaxUploadBytes overrides the request size limit.
func (h *ImportHandler) WithMaxUploadBytes(n int64) *ImportHandler {
	if n > 0 {
		h.maxUploadBytes = n
	}
	return h
}

// FileResult is the response entry for one uploaded file.
type FileResult struct {
	Filename string                `json:"filename"`
	Status   string                `json:"status"`
	Result   *importservice.Result `json:"result,omitempty"`
	Stage    importservice.Stage   `json:"stage,omitempty"`
	Code     string                `json:"code,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// UploadResponse lists one entry per file part, in request order.
type UploadResponse struct {
	Files     []FileResult `json:"files"`
	Committed int          `json:"committed"`
	Duplicate int          `json:"duplicate"`
	Rejected  int          `json:"rejected"`
}

const (
	statusCommitted = "committed"
	statusDuplicate = "already_imported"
	statusRejected  = "rejected"
)

// UploadStatements ingests every "file" part of a multipart request.
func (h *ImportHandler) UploadStatements(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	subs, err := readSubmissions(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(subs) == 0 {
		writeError(w, http.StatusBadRequest, `no "file" parts in request`)
		return
	}

	outcomes := h.ingester.IngestBatch(r.Context(), subs)

	resp := UploadResponse{Files: make([]FileResult, len(outcomes))}
	for i, o := range outcomes {
		fr := FileResult{Filename: subs[i].Filename}
		switch {
		case o.Err != nil:
			fr.Status = statusRejected
			fr.Code = importservice.ErrorCode(o.Err)
			fr.Error = o.Err.Error()
			var ierr *importservice.IngestError
			if errors.As(o.Err, &ierr) {
				fr.Stage = ierr.Stage
			}
			resp.Rejected++
		case o.Result.AlreadyImported:
			fr.Status = statusDuplicate
			fr.Result = o.Result
			resp.Duplicate++
		default:
			fr.Status = statusCommitted
			fr.Result = o.Result
			resp.Committed++
		}
		resp.Files[i] = fr
	}

	h.logger.Info("statement upload processed",
		slog.Int("files", len(subs)),
		slog.Int("committed", resp.Committed),
		slog.Int("duplicate", resp.Duplicate),
		slog.Int("rejected", resp.Rejected),
	)
	writeJSON(w, http.StatusOK, resp)
}

func readSubmissions(r *http.Request) ([]importservice.Submission, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	var subs []importservice.Submission
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return subs, nil
		}
		if err != nil {
			return nil, err
		}
		sub, ok, err := readPart(part)
		if err != nil {
			return nil, err
		}
		if ok {
			subs = append(subs, sub)
		}
	}
}

func readPart(part *multipart.Part) (importservice.Submission, bool, error) {
	defer part.Close()
	if part.FormName() != fileField || part.FileName() == "" {
		return importservice.Submission{}, false, nil
	}
	data, err := io.ReadAll(part)
	if err != nil {
		return importservice.Submission{}, false, err
	}
	return importservice.Submission{Filename: part.FileName(), Data: data}, true, nil
}

// ReloadResponse reports the catalog sizes after a reload.
type ReloadResponse struct {
	Rules   int `json:"rules"`
	Plugins int `json:"plugins"`
}

// Reload refreshes the rules and rescans the plugin directory.
func (h *ImportHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Refresh(r.Context()); err != nil {
		h.logger.Error("failed to refresh statement rules", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err := h.plugins.Reload(); err != nil {
		h.logger.Error("failed to reload plugins", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{
		Rules:   len(h.rules.Current().Rules()),
		Plugins: len(h.plugins.List()),
	})
}

// ListPlugins returns the adapters the registry can resolve.
func (h *ImportHandler) ListPlugins(w http.ResponseWriter, _ *http.Request) {
	infos := h.plugins.List()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Identifier < infos[j].Identifier })
	writeJSON(w, http.StatusOK, map[string]any{"plugins": infos})
}

// ListRules returns the active statement-type rules.
func (h *ImportHandler) ListRules(w http.ResponseWriter, _ *http.Request) {
	rules := h.rules.Current().Rules()
	if rules == nil {
		rules = []repository.StatementTypeRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// SearchCatalog runs a full-text search over adapters and rules.
func (h *ImportHandler) SearchCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, `query parameter "q" is required`)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != catalog.KindPlugin && kind != catalog.KindRule {
		writeError(w, http.StatusBadRequest, `kind must be "plugin" or "rule"`)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	idx, err := catalog.Build(h.plugins.List(), h.rules.Current().Rules())
	if err != nil {
		h.logger.Error("failed to build catalog index", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "catalog unavailable")
		return
	}
	defer idx.Close()

	hits, err := idx.Search(q, kind, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
