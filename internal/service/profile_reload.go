package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mir00r/subscriber-dbi/internal/config"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

// DefaultDebounce collapses the burst of events an editor save produces
const DefaultDebounce = 250 * time.Millisecond

// ProfileLoader is the part of the json backend the reloader drives
type ProfileLoader interface {
	Reload(ctx context.Context, path, apn string) error
}

// ProfileReloadService reloads APN profile documents when they change on disk
type ProfileReloadService struct {
	loader   ProfileLoader
	byPath   map[string][]string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *logger.Logger

	mutex     sync.RWMutex
	callbacks []func(apn string, err error)
	reloads   int
	failures  int
	lastEvent time.Time
}

// NewProfileReloadService watches the directories holding sources. Several
// APNs may share one document.
func NewProfileReloadService(loader ProfileLoader, sources []config.ProfileSource, log *logger.Logger) (*ProfileReloadService, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create profile watcher: %w", err)
	}

	prs := &ProfileReloadService{
		loader:   loader,
		byPath:   make(map[string][]string, len(sources)),
		watcher:  watcher,
		debounce: DefaultDebounce,
		logger:   logger.OrNop(log).WithField("component", "profile_reload"),
	}

	dirs := make(map[string]bool)
	for _, src := range sources {
		path, err := filepath.Abs(src.File)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("invalid profile path %s: %w", src.File, err)
		}
		prs.byPath[path] = append(prs.byPath[path], src.APN)
		dirs[filepath.Dir(path)] = true
	}

	// watching directories survives editors that replace files by rename
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return prs, nil
}

// SetDebounce changes how long the service waits for a file to settle
func (prs *ProfileReloadService) SetDebounce(d time.Duration) {
	prs.debounce = d
}

// RegisterReloadCallback registers fn to run after every reload attempt
func (prs *ProfileReloadService) RegisterReloadCallback(fn func(apn string, err error)) {
	prs.mutex.Lock()
	defer prs.mutex.Unlock()
	prs.callbacks = append(prs.callbacks, fn)
}

// Run processes file events until ctx is done and then closes the watcher
func (prs *ProfileReloadService) Run(ctx context.Context) error {
	defer prs.watcher.Close()

	prs.logger.WithField("files", len(prs.byPath)).Info("Started profile watcher")

	pending := make(map[string]bool)
	timer := time.NewTimer(prs.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			prs.logger.Info("Stopped profile watcher")
			return nil

		case event, ok := <-prs.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(event.Name)
			if _, watched := prs.byPath[path]; !watched {
				continue
			}
			pending[path] = true
			timer.Reset(prs.debounce)

		case err, ok := <-prs.watcher.Errors:
			if !ok {
				return nil
			}
			prs.logger.WithError(err).Error("Profile watcher error")

		case <-timer.C:
			for path := range pending {
				prs.reloadPath(ctx, path)
			}
			pending = make(map[string]bool)
		}
	}
}

func (prs *ProfileReloadService) reloadPath(ctx context.Context, path string) {
	for _, apn := range prs.byPath[path] {
		err := prs.loader.Reload(ctx, path, apn)

		prs.mutex.Lock()
		prs.reloads++
		if err != nil {
			prs.failures++
		}
		prs.lastEvent = time.Now()
		callbacks := append([]func(string, error){}, prs.callbacks...)
		prs.mutex.Unlock()

		if err != nil {
			prs.logger.WithFields(map[string]interface{}{
				"apn":  apn,
				"file": path,
			}).WithError(err).Warn("Profile reload rejected")
		}
		for _, fn := range callbacks {
			fn(apn, err)
		}
	}
}

// Close stops watching. Run closes the watcher itself on return; Close is for
// a service that never ran.
func (prs *ProfileReloadService) Close() error {
	return prs.watcher.Close()
}

// GetReloadStats returns reload statistics
func (prs *ProfileReloadService) GetReloadStats() map[string]interface{} {
	prs.mutex.RLock()
	defer prs.mutex.RUnlock()

	return map[string]interface{}{
		"files":      len(prs.byPath),
		"reloads":    prs.reloads,
		"failures":   prs.failures,
		"last_event": prs.lastEvent,
	}
}
