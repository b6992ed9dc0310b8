package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the releases directory for new or rewritten manifests and
// registers the newest generation it finds. Events are debounced so a
// manifest being written in several chunks triggers one registration, not
// several. Blocks until ctx is done.
func (s *Supervisor) Watch(ctx context.Context, releases string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if err := os.MkdirAll(releases, 0755); err != nil {
		return fmt.Errorf("failed to create releases dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(releases); err != nil {
		return fmt.Errorf("failed to watch %s: %w", releases, err)
	}

	// Catch up on releases dropped before the watch started.
	if err := s.scanReleases(ctx, releases); err != nil {
		s.logger.Printf("release scan: %v", err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".toml") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if pending {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
			timer.Reset(debounce)
			pending = true
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Printf("watcher error: %v", err)
		case <-timer.C:
			pending = false
			if err := s.scanReleases(ctx, releases); err != nil {
				s.logger.Printf("release scan: %v", err)
			}
		}
	}
}

// scanReleases loads every manifest in the directory and registers the
// highest generation newer than what is active or waiting. Unparseable
// manifests are logged and skipped; one bad release must not wedge the
// watcher.
func (s *Supervisor) scanReleases(ctx context.Context, releases string) error {
	paths, err := filepath.Glob(filepath.Join(releases, "*.toml"))
	if err != nil {
		return err
	}

	var newest *Manifest
	for _, path := range paths {
		m, err := LoadManifest(path)
		if err != nil {
			s.logger.Printf("skipping release %s: %v", filepath.Base(path), err)
			continue
		}
		if newest == nil || m.Generation > newest.Generation {
			newest = m
		}
	}
	if newest == nil {
		return nil
	}
	if newest.Generation <= s.ActiveGeneration() || newest.Generation == s.WaitingGeneration() {
		return nil
	}

	s.logger.Printf("found release generation %d", newest.Generation)
	_, err = s.Register(ctx, newest)
	return err
}
