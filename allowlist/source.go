package allowlist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jonwraymond/toolflight/observe"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 250 * time.Millisecond

// ErrNoPath indicates a reload was requested on a source without a file.
var ErrNoPath = errors.New("allowlist: source has no file")

// SourceConfig configures a Source.
type SourceConfig struct {
	// Path is the allowlist file. Empty serves Fallback and never reloads.
	Path string

	// Fallback is served when Path is empty. Nil uses Builtin.
	Fallback *Allowlist

	// Options are passed to Load on every read.
	Options []Option

	Logger   observe.Logger
	Debounce time.Duration

	// OnReload is called after every reload attempt triggered by Watch.
	OnReload func(*Allowlist, error)
}

// Source holds the current allowlist snapshot and reloads it from disk.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Snapshots returned by Current are immutable; a failed reload keeps the previous one.
type Source struct {
	cfg     SourceConfig
	current atomic.Pointer[Allowlist]
	mu      sync.Mutex // serializes reloads
}

// NewSource performs the initial load. An invalid file is an error here;
// later reload failures are not.
func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	s := &Source{cfg: cfg}

	if cfg.Path == "" {
		a := cfg.Fallback
		if a == nil {
			var err error
			if a, err = Builtin(cfg.Options...); err != nil {
				return nil, err
			}
		}
		s.current.Store(a)
		return s, nil
	}

	a, err := Load(cfg.Path, cfg.Options...)
	if err != nil {
		return nil, err
	}
	s.current.Store(a)
	return s, nil
}

// StaticSource returns a Source that always serves a.
func StaticSource(a *Allowlist) *Source {
	s := &Source{cfg: SourceConfig{Logger: observe.NopLogger(), Debounce: DefaultDebounce}}
	s.current.Store(a)
	return s
}

// Current returns the current snapshot.
func (s *Source) Current() *Allowlist {
	return s.current.Load()
}

// Reload re-reads the file. On failure the previous snapshot stays current.
func (s *Source) Reload() (*Allowlist, error) {
	if s.cfg.Path == "" {
		return s.Current(), ErrNoPath
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := Load(s.cfg.Path, s.cfg.Options...)
	if err != nil {
		return s.Current(), err
	}
	prev := s.current.Swap(a)
	if prev == nil || prev.Version() != a.Version() {
		s.cfg.Logger.Info(context.Background(), "allowlist reloaded",
			observe.F("path", s.cfg.Path),
			observe.F("version", a.Version()),
			observe.F("tools", a.Len()),
		)
	}
	return a, nil
}

// Watch reloads the file whenever it changes until ctx is done.
// The containing directory is watched so editors that replace the file by
// rename are observed.
func (s *Source) Watch(ctx context.Context) error {
	if s.cfg.Path == "" {
		return ErrNoPath
	}
	target, err := filepath.Abs(s.cfg.Path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
		wg    sync.WaitGroup
	)
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		wg.Add(1)
		timer = time.AfterFunc(s.cfg.Debounce, func() {
			defer wg.Done()
			a, err := s.Reload()
			if err != nil {
				s.cfg.Logger.Warn(ctx, "allowlist reload failed; keeping previous snapshot",
					observe.F("path", s.cfg.Path),
					observe.F("error", err),
				)
			}
			if s.cfg.OnReload != nil {
				s.cfg.OnReload(a, err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.cfg.Logger.Warn(ctx, "allowlist watch error", observe.F("error", err))
		}
	}
}
