package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// FamilyFactory builds an adapter of one family from its manifest declaration.
type FamilyFactory func(spec AdapterSpec) (Adapter, error)

// Builtin is an adapter compiled into the binary.
type Builtin struct {
	Adapter Adapter
	Info    Info
}

// Config configures a Registry.
type Config struct {
	// Dir is the plugin directory holding manifest artifacts.
	Dir string
	// Families maps a manifest family name to its engine.
	Families map[Family]FamilyFactory
	// Builtins maps full identifiers under BuiltinPrefix to compiled-in adapters.
	Builtins map[string]Builtin
}

var manifestExts = []string{".yaml", ".yml"}

// Registry resolves extraction identifiers to adapters. It owns an immutable
// Snapshot that is replaced wholesale on Reload.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes Reload
}

// NewRegistry scans the plugin directory and returns a ready registry.
func NewRegistry(cfg Config, logger *slog.Logger) (*Registry, error) {
	r := &Registry{cfg: cfg, logger: logger.With(slog.String("component", "plugin_registry"))}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Snapshot returns the snapshot in use. A batch should resolve every
// identifier against one snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Resolve resolves id against the current snapshot.
func (r *Registry) Resolve(ctx context.Context, id string) (Adapter, error) {
	return r.Snapshot().Resolve(ctx, id)
}

// List returns every adapter the current snapshot knows about.
func (r *Registry) List() []Info {
	return r.Snapshot().List()
}

// Reload rescans the plugin directory and swaps in a fresh snapshot with an
// empty cache. In-flight resolutions keep using the snapshot they started with.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	artifacts, err := scanDir(r.cfg.Dir)
	if err != nil {
		return fmt.Errorf("scan plugin directory: %w", err)
	}

	snap := &Snapshot{
		dir:       r.cfg.Dir,
		families:  r.cfg.Families,
		builtins:  r.cfg.Builtins,
		artifacts: artifacts,
		logger:    r.logger,
		LoadedAt:  time.Now(),
	}
	r.current.Store(snap)

	r.logger.Info("plugin registry loaded",
		slog.String("dir", r.cfg.Dir),
		slog.Int("artifacts", len(artifacts)),
		slog.Int("builtins", len(r.cfg.Builtins)),
	)
	return nil
}

// scanDir lists manifest artifacts by module path.
func scanDir(dir string) (map[string]string, error) {
	artifacts := make(map[string]string)
	if dir == "" {
		return artifacts, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return artifacts, nil
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		module := filepath.ToSlash(strings.TrimSuffix(rel, ext))
		artifacts[module] = p
		return nil
	})
	return artifacts, err
}

// Snapshot is one immutable view of the plugin directory plus its resolution
// cache. Only successful resolutions are cached.
type Snapshot struct {
	dir       string
	families  map[Family]FamilyFactory
	builtins  map[string]Builtin
	artifacts map[string]string
	logger    *slog.Logger

	cache sync.Map // identifier -> Adapter
	group singleflight.Group

	LoadedAt time.Time
}

// Resolve returns the adapter for raw. Concurrent calls for the same
// identifier share one load.
func (s *Snapshot) Resolve(ctx context.Context, raw string) (Adapter, error) {
	id, err := ParseIdentifier(raw)
	if err != nil {
		return nil, err
	}
	key := id.String()

	if cached, ok := s.cache.Load(key); ok {
		return cached.(Adapter), nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		if cached, ok := s.cache.Load(key); ok {
			return cached, nil
		}
		adapter, err := s.load(id)
		if err != nil {
			return nil, err
		}
		s.cache.Store(key, adapter)
		s.logger.Debug("adapter resolved", slog.String("identifier", key), slog.String("family", string(adapter.Family())))
		return adapter, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Adapter), nil
	}
}

func (s *Snapshot) load(id Identifier) (Adapter, error) {
	key := id.String()
	if id.Builtin() {
		b, ok := s.builtins[key]
		if !ok {
			return nil, resolutionError(NotFound, key, nil, "no compiled-in adapter")
		}
		return b.Adapter, nil
	}

	manifest, err := s.readManifest(id)
	if err != nil {
		return nil, err
	}
	if manifest.Protocol != ProtocolVersion {
		return nil, resolutionError(VersionIncompatible, key, nil,
			"artifact speaks protocol %d, host speaks %d", manifest.Protocol, ProtocolVersion)
	}

	spec, ok := manifest.Adapters[id.Symbol]
	if !ok {
		return nil, resolutionError(ContractMismatch, key, nil, "artifact does not declare symbol %q", id.Symbol)
	}
	factory, ok := s.families[spec.Family]
	if !ok {
		return nil, resolutionError(ContractMismatch, key, nil, "unknown adapter family %q", spec.Family)
	}
	adapter, err := factory(spec)
	if err != nil {
		return nil, resolutionError(ContractMismatch, key, err, "invalid %s adapter config", spec.Family)
	}
	return adapter, nil
}

// readManifest locates the artifact lazily so that a file dropped after the
// last scan is still found on retry.
func (s *Snapshot) readManifest(id Identifier) (*Manifest, error) {
	key := id.String()
	if s.dir == "" {
		return nil, resolutionError(NotFound, key, nil, "no plugin directory configured")
	}

	candidates := make([]string, 0, len(manifestExts)+1)
	if p, ok := s.artifacts[id.Module]; ok {
		candidates = append(candidates, p)
	}
	for _, ext := range manifestExts {
		candidates = append(candidates, filepath.Join(s.dir, filepath.FromSlash(id.Module)+ext))
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, resolutionError(NotFound, key, err, "read artifact")
		}
		manifest, err := DecodeManifest(data)
		if err != nil {
			return nil, resolutionError(ContractMismatch, key, err, "artifact %s", filepath.Base(p))
		}
		return manifest, nil
	}
	return nil, resolutionError(NotFound, key, nil, "no artifact for module %q in %s", id.Module, s.dir)
}

// List describes every adapter in the snapshot. Unreadable artifacts are
// logged and skipped.
func (s *Snapshot) List() []Info {
	var infos []Info
	for key, b := range s.builtins {
		info := b.Info
		info.Identifier = key
		info.Family = b.Adapter.Family()
		info.Builtin = true
		infos = append(infos, info)
	}

	for module, p := range s.artifacts {
		data, err := os.ReadFile(p)
		if err != nil {
			s.logger.Warn("skipping unreadable artifact", slog.String("path", p), slog.Any("error", err))
			continue
		}
		manifest, err := DecodeManifest(data)
		if err != nil {
			s.logger.Warn("skipping invalid artifact", slog.String("path", p), slog.Any("error", err))
			continue
		}
		for symbol, spec := range manifest.Adapters {
			infos = append(infos, Info{
				Identifier:    Identifier{Module: module, Symbol: symbol}.String(),
				Family:        spec.Family,
				Version:       manifest.Version,
				Company:       spec.Company,
				StatementType: spec.StatementType,
				SearchString:  spec.SearchString,
				Instructions:  spec.Instructions,
			})
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Identifier < infos[j].Identifier })
	return infos
}
