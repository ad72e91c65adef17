package jsondb

import (
	"context"
	"sync"

	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
	"github.com/mir00r/subscriber-dbi/internal/store"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

const (
	// Name is the registry name of the document-backed backend
	Name = "json"

	// SessionName is reported as the session name of every resolved session
	SessionName = "json_profile"

	component = "jsondb"
)

// Backend serves session QoS from APN profile documents loaded into a
// bounded in-memory store. Queries take the read lock; loading and teardown
// take the write lock.
type Backend struct {
	mu     sync.RWMutex
	store  *store.APNStore
	logger *logger.Logger
}

var _ domain.Backend = (*Backend)(nil)

// New creates a backend whose store holds at most apnCapacity APNs
func New(apnCapacity int, log *logger.Logger) *Backend {
	return &Backend{
		store:  store.NewAPNStore(apnCapacity),
		logger: logger.OrNop(log).BackendLogger(Name),
	}
}

// Name implements domain.Backend
func (b *Backend) Name() string {
	return Name
}

// Final invalidates every loaded APN and its profiles
func (b *Backend) Final() {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.store.Len()
	b.store.Reset()
	b.logger.WithField("apns", n).Info("APN profile store cleared")
}

// Stats returns a summary of the loaded APNs
func (b *Backend) Stats() store.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.Stats()
}

// APNs returns the names of the loaded APNs
func (b *Backend) APNs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.Names()
}

// MsisdnData is not served from APN profiles
func (b *Backend) MsisdnData(ctx context.Context, imsiOrMsisdn string) (*domain.MsisdnData, error) {
	return nil, notSupported("msisdn_data")
}

// ImsData is not served from APN profiles
func (b *Backend) ImsData(ctx context.Context, supi string) (*domain.ImsData, error) {
	return nil, notSupported("ims_data")
}

// AuthInfo is not served from APN profiles
func (b *Backend) AuthInfo(ctx context.Context, supi string) (*domain.AuthInfo, error) {
	return nil, notSupported("auth_info")
}

// UpdateSQN is not served from APN profiles
func (b *Backend) UpdateSQN(ctx context.Context, supi string, sqn uint64) error {
	return notSupported("update_sqn")
}

// IncrementSQN is not served from APN profiles
func (b *Backend) IncrementSQN(ctx context.Context, supi string) error {
	return notSupported("increment_sqn")
}

// UpdateIMEISV is not served from APN profiles
func (b *Backend) UpdateIMEISV(ctx context.Context, supi, imeisv string) error {
	return notSupported("update_imeisv")
}

// SubscriptionData is not served from APN profiles
func (b *Backend) SubscriptionData(ctx context.Context, supi string) (*domain.SubscriptionData, error) {
	return nil, notSupported("subscription_data")
}

func notSupported(op string) error {
	return dbierrors.Newf(dbierrors.ErrCodeNotSupported, component,
		"%s is not supported by the %s backend", op, Name).
		WithMetadata("operation", op)
}
