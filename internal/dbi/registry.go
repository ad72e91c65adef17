package dbi

import (
	"context"
	"strings"
	"sync"

	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

const component = "dbi"

// Registry holds the fixed set of backends known at construction and the one
// currently selected. Every query is routed to the selected backend; with
// nothing selected queries fail with NO_BACKEND_SELECTED.
type Registry struct {
	backends []domain.Backend
	logger   *logger.Logger

	mu       sync.RWMutex
	selected domain.Backend
	watchers []func(name string, selected bool)

	// notifyMu is held across a selection change and its notification so
	// watchers see changes in the order they took effect
	notifyMu sync.Mutex
}

// NewRegistry creates a registry over the given backends. Nil entries are
// skipped, which lets callers pass optional backends unconditionally.
func NewRegistry(log *logger.Logger, backends ...domain.Backend) *Registry {
	r := &Registry{logger: logger.OrNop(log).RegistryLogger()}
	for _, b := range backends {
		if b != nil {
			r.backends = append(r.backends, b)
		}
	}
	return r
}

// Available returns the names of the known backends in registration order
func (r *Registry) Available() []string {
	names := make([]string, len(r.backends))
	for i, b := range r.backends {
		names[i] = b.Name()
	}
	return names
}

// Lookup returns the known backend matching name case-insensitively
func (r *Registry) Lookup(name string) (domain.Backend, bool) {
	for _, b := range r.backends {
		if strings.EqualFold(b.Name(), name) {
			return b, true
		}
	}
	return nil, false
}

// Select makes the named backend the active one. The previously selected
// backend is replaced without being torn down.
func (r *Registry) Select(name string) error {
	b, ok := r.Lookup(name)
	if !ok {
		r.logger.WithField("interface", name).Error("Couldn't find dbi interface")
		return dbierrors.Newf(dbierrors.ErrCodeBackendNotFound, component,
			"couldn't find dbi interface %s", name).
			WithMetadata("interface", name).
			WithMetadata("available", r.Available())
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	r.selected = b
	watchers := r.watchers
	r.mu.Unlock()

	r.logger.WithField("interface", b.Name()).Info("dbi interface selected")
	notify(watchers, b.Name(), true)
	return nil
}

// Deselect clears the active backend. It is a no-op when nothing is selected.
func (r *Registry) Deselect() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	prev := r.selected
	r.selected = nil
	watchers := r.watchers
	r.mu.Unlock()

	if prev != nil {
		r.logger.WithField("interface", prev.Name()).Info("dbi interface deselected")
		notify(watchers, prev.Name(), false)
	}
}

// Selected returns the active backend
func (r *Registry) Selected() (domain.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected, r.selected != nil
}

// Final tears down the active backend. The selection itself is kept.
func (r *Registry) Final() error {
	b, err := r.active()
	if err != nil {
		return err
	}
	b.Final()
	return nil
}

// OnChange registers fn to run after every select and effective deselect.
// Watchers run in change order and must not call Select or Deselect.
func (r *Registry) OnChange(fn func(name string, selected bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

func notify(watchers []func(string, bool), name string, selected bool) {
	for _, fn := range watchers {
		fn(name, selected)
	}
}

func (r *Registry) active() (domain.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == nil {
		return nil, dbierrors.NewError(dbierrors.ErrCodeNoBackendSelected, component, "no dbi interface selected")
	}
	return r.selected, nil
}

// SessionData routes to the selected backend
func (r *Registry) SessionData(ctx context.Context, query domain.SessionQuery) (*domain.SessionData, error) {
	b, err := r.active()
	if err != nil {
		return nil, err
	}
	return b.SessionData(ctx, query)
}

// MsisdnData routes to the selected backend
func (r *Registry) MsisdnData(ctx context.Context, imsiOrMsisdn string) (*domain.MsisdnData, error) {
	b, err := r.active()
	if err != nil {
		return nil, err
	}
	return b.MsisdnData(ctx, imsiOrMsisdn)
}

// ImsData routes to the selected backend
func (r *Registry) ImsData(ctx context.Context, supi string) (*domain.ImsData, error) {
	b, err := r.active()
	if err != nil {
		return nil, err
	}
	return b.ImsData(ctx, supi)
}

// AuthInfo routes to the selected backend
func (r *Registry) AuthInfo(ctx context.Context, supi string) (*domain.AuthInfo, error) {
	b, err := r.active()
	if err != nil {
		return nil, err
	}
	return b.AuthInfo(ctx, supi)
}

// UpdateSQN routes to the selected backend
func (r *Registry) UpdateSQN(ctx context.Context, supi string, sqn uint64) error {
	b, err := r.active()
	if err != nil {
		return err
	}
	return b.UpdateSQN(ctx, supi, sqn)
}

// IncrementSQN routes to the selected backend
func (r *Registry) IncrementSQN(ctx context.Context, supi string) error {
	b, err := r.active()
	if err != nil {
		return err
	}
	return b.IncrementSQN(ctx, supi)
}

// UpdateIMEISV routes to the selected backend
func (r *Registry) UpdateIMEISV(ctx context.Context, supi, imeisv string) error {
	b, err := r.active()
	if err != nil {
		return err
	}
	return b.UpdateIMEISV(ctx, supi, imeisv)
}

// SubscriptionData routes to the selected backend
func (r *Registry) SubscriptionData(ctx context.Context, supi string) (*domain.SubscriptionData, error) {
	b, err := r.active()
	if err != nil {
		return nil, err
	}
	return b.SubscriptionData(ctx, supi)
}
