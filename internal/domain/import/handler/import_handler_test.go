package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/classifier"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
)

type fakeIngester struct {
	mu       sync.Mutex
	received []importservice.Submission
	outcomes map[string]importservice.Outcome
}

func (f *fakeIngester) IngestBatch(_ context.Context, subs []importservice.Submission) []importservice.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, subs...)
	out := make([]importservice.Outcome, len(subs))
	for i, s := range subs {
		out[i] = f.outcomes[s.Filename]
	}
	return out
}

type fakeRules struct {
	rules      []repository.StatementTypeRule
	refreshErr error
	refreshed  int
}

func (f *fakeRules) Current() *classifier.Classifier { return classifier.New(f.rules) }

func (f *fakeRules) Refresh(context.Context) error {
	f.refreshed++
	return f.refreshErr
}

type fakePlugins struct {
	infos    []plugin.Info
	reloaded int
}

func (f *fakePlugins) List() []plugin.Info { return append([]plugin.Info(nil), f.infos...) }

func (f *fakePlugins) Reload() error {
	f.reloaded++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func multipartBody(t *testing.T, files map[string]string, order []string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	for _, name := range order {
		fw, err := mw.CreateFormFile(fileField, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newTestRouter(ing Ingester, rules RuleCatalog, plugins PluginCatalog, cfg RouterConfig) http.Handler {
	h := NewImportHandler(ing, rules, plugins, testLogger())
	return NewRouter(h, cfg, testLogger())
}

func TestUploadStatements(t *testing.T) {
	statementID := uuid.New()
	ing := &fakeIngester{outcomes: map[string]importservice.Outcome{
		"march.csv": {Result: &importservice.Result{State: importservice.StageCommitted, StatementID: statementID, NewTransactions: 3}},
		"again.csv": {Result: &importservice.Result{State: importservice.StageCommitted, StatementID: statementID, AlreadyImported: true, DuplicateTransactions: 3}},
		"notes.pdf": {Err: &importservice.IngestError{
			Stage:    importservice.StageClassified,
			Filename: "notes.pdf",
			Err:      &classifier.ClassificationError{Reason: classifier.NoMatch, Filename: "notes.pdf", Extension: ".pdf"},
		}},
	}}
	router := newTestRouter(ing, &fakeRules{}, &fakePlugins{}, RouterConfig{})

	order := []string{"notes.pdf", "march.csv", "again.csv"}
	body, contentType := multipartBody(t, map[string]string{
		"notes.pdf": "%PDF-1.4",
		"march.csv": "Date,Amount\n",
		"again.csv": "Date,Amount\n",
	}, order)

	req := httptest.NewRequest(http.MethodPost, "/v1/statements", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Files, 3)
	for i, name := range order {
		assert.Equal(t, name, resp.Files[i].Filename)
	}
	assert.Equal(t, statusRejected, resp.Files[0].Status)
	assert.Equal(t, "no_match", resp.Files[0].Code)
	assert.Equal(t, importservice.StageClassified, resp.Files[0].Stage)
	assert.Equal(t, statusCommitted, resp.Files[1].Status)
	assert.Equal(t, 3, resp.Files[1].Result.NewTransactions)
	assert.Equal(t, statusDuplicate, resp.Files[2].Status)
	assert.Equal(t, 1, resp.Committed)
	assert.Equal(t, 1, resp.Duplicate)
	assert.Equal(t, 1, resp.Rejected)

	require.Len(t, ing.received, 3)
	assert.Equal(t, []byte("%PDF-1.4"), ing.received[0].Data)
}

func TestUploadStatements_BadRequests(t *testing.T) {
	router := newTestRouter(&fakeIngester{}, &fakeRules{}, &fakePlugins{}, RouterConfig{})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/statements", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no file parts", func(t *testing.T) {
		body, contentType := multipartBody(t, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/statements", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "no \\\"file\\\" parts")
	})

	t.Run("too large", func(t *testing.T) {
		h := NewImportHandler(&fakeIngester{}, &fakeRules{}, &fakePlugins{}, testLogger()).WithMaxUploadBytes(16)
		small := NewRouter(h, RouterConfig{}, testLogger())
		body, contentType := multipartBody(t, map[string]string{"big.csv": "0123456789abcdef0123456789"}, []string{"big.csv"})
		req := httptest.NewRequest(http.MethodPost, "/v1/statements", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		small.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestCatalogEndpoints(t *testing.T) {
	rules := &fakeRules{rules: []repository.StatementTypeRule{
		{ID: uuid.New(), Company: "Example Bank", Extension: ".csv", SearchExpression: "example bank", Identifier: "banks/example:Checking"},
	}}
	plugins := &fakePlugins{infos: []plugin.Info{
		{Identifier: "builtin/orders:Orders", Family: plugin.FamilyCSV, Builtin: true},
		{Identifier: "banks/example:Checking", Family: plugin.FamilyCSV},
	}}
	router := newTestRouter(&fakeIngester{}, rules, plugins, RouterConfig{})

	t.Run("plugins sorted by identifier", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/plugins", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Plugins []plugin.Info `json:"plugins"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Plugins, 2)
		assert.Equal(t, "banks/example:Checking", resp.Plugins[0].Identifier)
		assert.True(t, resp.Plugins[1].Builtin)
	})

	t.Run("rules", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rules", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "banks/example:Checking")
	})

	t.Run("catalog search", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/search?q=example&kind=rule", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Hits []catalog.Hit `json:"hits"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Hits, 1)
		assert.Equal(t, "banks/example:Checking", resp.Hits[0].Identifier)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/search?q=x&kind=bank", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reload", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/reload", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ReloadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, ReloadResponse{Rules: 1, Plugins: 2}, resp)
		assert.Equal(t, 1, rules.refreshed)
		assert.Equal(t, 1, plugins.reloaded)
	})

	t.Run("reload keeps plugins when rules fail", func(t *testing.T) {
		failing := &fakeRules{refreshErr: errors.New("database down")}
		p := &fakePlugins{}
		rec := httptest.NewRecorder()
		newTestRouter(&fakeIngester{}, failing, p, RouterConfig{}).
			ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/reload", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Zero(t, p.reloaded)
	})
}

func TestRouter_Middleware(t *testing.T) {
	t.Run("health and metrics", func(t *testing.T) {
		metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ledger_ingest_documents_total 0\n"))
		})
		router := newTestRouter(&fakeIngester{}, &fakeRules{}, &fakePlugins{}, RouterConfig{Metrics: metrics})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ledger_ingest_documents_total")
	})

	t.Run("metrics not mounted", func(t *testing.T) {
		router := newTestRouter(&fakeIngester{}, &fakeRules{}, &fakePlugins{}, RouterConfig{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rate limit", func(t *testing.T) {
		router := newTestRouter(&fakeIngester{}, &fakeRules{}, &fakePlugins{}, RouterConfig{RateLimitPerSecond: 1, RateLimitBurst: 2})
		codes := make([]int, 3)
		for i := range codes {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/plugins", nil))
			codes[i] = rec.Code
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	})

	t.Run("cors preflight", func(t *testing.T) {
		router := newTestRouter(&fakeIngester{}, &fakeRules{}, &fakePlugins{}, RouterConfig{AllowedOrigins: []string{"https://ledger.example"}})
		req := httptest.NewRequest(http.MethodOptions, "/v1/statements", nil)
		req.Header.Set("Origin", "https://ledger.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "https://ledger.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
