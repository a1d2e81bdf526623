// Package sweeper imports every statement waiting in an inbox folder and
// files each one into the archive by outcome.
package sweeper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"

	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
	"github.com/FACorreiaa/ledger-ingest/pkg/metrics"
	"github.com/FACorreiaa/ledger-ingest/pkg/notify"
	"github.com/FACorreiaa/ledger-ingest/pkg/storage"
)

// Archive folders.
const (
	FolderImported   = "imported"
	FolderDuplicates = "duplicates"
	FolderFailed     = "failed"
)

// ErrStopped is returned when HardFail ends a sweep at the first rejection.
var ErrStopped = errors.New("sweep stopped at first failure")

// Ingester runs documents through the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, sub importservice.Submission) (*importservice.Result, error)
	IngestBatch(ctx context.Context, subs []importservice.Submission) []importservice.Outcome
}

// Notifier receives a summary of sweeps that rejected a file.
type Notifier interface {
	Send(ctx context.Context, msg *notify.Message) error
}

// Config controls a sweep.
type Config struct {
	// HardFail stops at the first rejected file and leaves it in the inbox.
	HardFail bool
	// Extensions limits which inbox files are picked up. Empty means every
	// extension the loader understands.
	Extensions []string
}

// FileReport is the outcome of one inbox file.
type FileReport struct {
	Name        string                `json:"name"`
	Destination string                `json:"destination,omitempty"`
	Result      *importservice.Result `json:"result,omitempty"`
	Err         error                 `json:"-"`
}

// Report summarizes a sweep.
type Report struct {
	Files      []FileReport `json:"files"`
	Imported   int          `json:"imported"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
}

// Sweeper moves statements from the inbox through the pipeline into the archive.
type Sweeper struct {
	ingester Ingester
	inbox    storage.Storage
	archive  storage.Storage
	cfg      Config
	metrics  *metrics.Metrics
	notifier Notifier
	logger   *slog.Logger
}

// New creates a sweeper. m may be nil.
func New(ingester Ingester, inbox, archive storage.Storage, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{sniffer.ExtCSV, sniffer.ExtPDF, sniffer.ExtXLSX}
	}
	for i, ext := range cfg.Extensions {
		cfg.Extensions[i] = sniffer.NormalizeExtension(ext, "")
	}
	return &Sweeper{
		ingester: ingester,
		inbox:    inbox,
		archive:  archive,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// WithNotifier reports failed sweeps to n.
func (s *Sweeper) WithNotifier(n Notifier) *Sweeper {
	s.notifier = n
	return s
}

// Sweep imports the inbox in filename order. Files are removed from the
// inbox only after they have been archived.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	files, err := s.inbox.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}

	var subs []importservice.Submission
	for _, f := range files {
		if !slices.Contains(s.cfg.Extensions, sniffer.NormalizeExtension("", f.Name)) {
			continue
		}
		data, err := s.read(ctx, f.Name)
		if err != nil {
			return nil, err
		}
		subs = append(subs, importservice.Submission{Filename: f.Name, Data: data})
	}

	report := &Report{}
	if len(subs) == 0 {
		return report, nil
	}
	s.logger.Info("sweep started", slog.Int("files", len(subs)), slog.Bool("hard_fail", s.cfg.HardFail))

	if s.cfg.HardFail {
		err = s.sweepSequential(ctx, subs, report)
	} else {
		for i, o := range s.ingester.IngestBatch(ctx, subs) {
			if ferr := s.file(ctx, subs[i], o, report); ferr != nil {
				return report, ferr
			}
		}
	}

	s.logger.Info("sweep completed",
		slog.Int("imported", report.Imported),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("failed", report.Failed),
	)
	if report.Failed > 0 {
		s.notify(ctx, report, err)
	}
	return report, err
}

func (s *Sweeper) notify(ctx context.Context, report *Report, sweepErr error) {
	if s.notifier == nil {
		return
	}
	var failed []string
	for _, f := range report.Files {
		if f.Err != nil {
			failed = append(failed, f.Name+": "+importservice.ErrorCode(f.Err))
		}
	}
	severity := "warning"
	if sweepErr != nil {
		severity = "error"
	}
	msg := &notify.Message{
		Title:    "Statement inbox sweep",
		Body:     fmt.Sprintf("%d imported, %d duplicates, %d failed", report.Imported, report.Duplicates, report.Failed),
		Severity: severity,
		Data: map[string]any{
			"imported":   report.Imported,
			"duplicates": report.Duplicates,
			"failed":     failed,
		},
	}
	if err := s.notifier.Send(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Warn("failed to send sweep notification", slog.Any("error", err))
	}
}

func (s *Sweeper) sweepSequential(ctx context.Context, subs []importservice.Submission, report *Report) error {
	for _, sub := range subs {
		res, err := s.ingester.Ingest(ctx, sub)
		if err != nil {
			report.Failed++
			report.Files = append(report.Files, FileReport{Name: sub.Filename, Err: err})
			s.logger.Error("sweep stopped", slog.String("filename", sub.Filename), slog.Any("error", err))
			return fmt.Errorf("%w: %s: %w", ErrStopped, sub.Filename, err)
		}
		if ferr := s.file(ctx, sub, importservice.Outcome{Result: res}, report); ferr != nil {
			return ferr
		}
	}
	return nil
}

func (s *Sweeper) read(ctx context.Context, name string) ([]byte, error) {
	rc, _, err := s.inbox.Download(ctx, "", name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// file archives one processed submission and removes it from the inbox.
func (s *Sweeper) file(ctx context.Context, sub importservice.Submission, o importservice.Outcome, report *Report) error {
	folder, name, labels := destination(sub, o)

	// archiving must complete even if the sweep is cancelled mid-way
	ctx = context.WithoutCancel(ctx)
	info, err := s.archive.Upload(ctx, folder, name, bytes.NewReader(sub.Data), labels)
	if err != nil {
		return fmt.Errorf("archive %s: %w", sub.Filename, err)
	}
	if err := s.inbox.Delete(ctx, "", sub.Filename); err != nil {
		return fmt.Errorf("remove %s from inbox: %w", sub.Filename, err)
	}

	switch folder {
	case FolderImported:
		report.Imported++
	case FolderDuplicates:
		report.Duplicates++
	default:
		report.Failed++
	}
	if s.metrics != nil {
		s.metrics.Sweeps.WithLabelValues(folder).Inc()
	}

	dest := path.Join(folder, info.Name)
	report.Files = append(report.Files, FileReport{Name: sub.Filename, Destination: dest, Result: o.Result, Err: o.Err})
	s.logger.Info("statement archived",
		slog.String("filename", sub.Filename),
		slog.String("destination", dest),
	)
	return nil
}

func destination(sub importservice.Submission, o importservice.Outcome) (folder, name string, labels map[string]string) {
	switch {
	case o.Err != nil:
		labels = map[string]string{
			"code":  importservice.ErrorCode(o.Err),
			"error": o.Err.Error(),
		}
		var ierr *importservice.IngestError
		if errors.As(o.Err, &ierr) {
			labels["stage"] = string(ierr.Stage)
		}
		return FolderFailed, sub.Filename, labels
	case o.Result.AlreadyImported:
		return FolderDuplicates, sub.Filename, map[string]string{
			"statement_id": o.Result.StatementID.String(),
		}
	default:
		name = o.Result.ArchiveName
		if name == "" {
			name = sub.Filename
		}
		return FolderImported, name, map[string]string{
			"statement_id":  o.Result.StatementID.String(),
			"original_name": sub.Filename,
		}
	}
}
