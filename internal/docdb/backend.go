package docdb

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

const (
	// Name is the registry name of the redis-backed backend
	Name = "redis"

	// DefaultKeyPrefix namespaces every key the backend writes
	DefaultKeyPrefix = "dbi:"

	component = "docdb"

	maxTxRetries = 8
)

// Options configures the redis connection
type Options struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// Backend serves subscriber documents stored in redis. Each subscriber is a
// JSON document under <prefix>subscriber:<imsi>; every MSISDN has an index
// key <prefix>msisdn:<msisdn> holding the IMSI.
type Backend struct {
	client *redis.Client
	prefix string
	logger *logger.Logger
}

var _ domain.Backend = (*Backend)(nil)

// New wraps an existing client
func New(client *redis.Client, prefix string, log *logger.Logger) *Backend {
	return &Backend{
		client: client,
		prefix: prefix,
		logger: logger.OrNop(log).BackendLogger(Name),
	}
}

// Dial connects to redis and verifies the connection
func Dial(ctx context.Context, opts Options, log *logger.Logger) (*Backend, error) {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	b := New(client, opts.KeyPrefix, log)
	if err := b.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	b.logger.WithField("addr", opts.Addr).Info("Connected to subscriber store")
	return b, nil
}

// Name implements domain.Backend
func (b *Backend) Name() string {
	return Name
}

// Final closes the redis connection pool
func (b *Backend) Final() {
	if err := b.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		b.logger.WithError(err).Warn("Closing subscriber store connection failed")
		return
	}
	b.logger.Info("Subscriber store connection closed")
}

// Ping checks that redis answers
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return unavailable(err, "ping")
	}
	return nil
}

func (b *Backend) subscriberKey(imsi string) string {
	return b.prefix + "subscriber:" + imsi
}

func (b *Backend) msisdnKey(msisdn string) string {
	return b.prefix + "msisdn:" + msisdn
}

// Put creates or replaces a subscriber document and its MSISDN index. The
// imsi may be given as a SUPI. Index entries of numbers the subscriber no
// longer holds are removed only while they still point at it.
func (b *Backend) Put(ctx context.Context, doc *Document) error {
	if doc == nil || IMSIFromSUPI(doc.IMSI) == "" {
		return dbierrors.NewError(dbierrors.ErrCodeInvalidArgument, component, "subscriber document needs an imsi")
	}

	stored := *doc
	stored.IMSI = IMSIFromSUPI(doc.IMSI)
	data, err := encodeDocument(&stored)
	if err != nil {
		return err
	}

	key := b.subscriberKey(stored.IMSI)
	err = b.watch(ctx, key, func(tx *redis.Tx) error {
		old, err := b.read(ctx, tx, stored.IMSI)
		if err != nil && !errors.Is(err, dbierrors.ErrSubscriberNotFound) {
			return err
		}

		var stale []string
		if old != nil {
			stale, err = b.ownedIndexKeys(ctx, tx, stored.IMSI, old.MSISDN, stored.MSISDN)
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(stale) > 0 {
				pipe.Del(ctx, stale...)
			}
			pipe.Set(ctx, key, data, 0)
			for _, m := range stored.MSISDN {
				pipe.Set(ctx, b.msisdnKey(m), stored.IMSI, 0)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}

	b.logger.WithField("imsi", stored.IMSI).Debug("Subscriber stored")
	return nil
}

// Delete removes a subscriber and the index entries that still point at it
func (b *Backend) Delete(ctx context.Context, supi string) error {
	imsi := IMSIFromSUPI(supi)
	key := b.subscriberKey(imsi)
	return b.watch(ctx, key, func(tx *redis.Tx) error {
		doc, err := b.read(ctx, tx, imsi)
		if err != nil {
			return err
		}
		stale, err := b.ownedIndexKeys(ctx, tx, imsi, doc.MSISDN, nil)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, append(stale, key)...)
			return nil
		})
		return err
	})
}

// ownedIndexKeys watches the index keys of msisdns not in keep and returns
// those still mapping to imsi. A number since moved to another subscriber
// keeps its entry.
func (b *Backend) ownedIndexKeys(ctx context.Context, tx *redis.Tx, imsi string, msisdns, keep []string) ([]string, error) {
	kept := make(map[string]bool, len(keep))
	for _, m := range keep {
		kept[m] = true
	}

	var keys []string
	for _, m := range msisdns {
		if !kept[m] {
			keys = append(keys, b.msisdnKey(m))
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	if err := tx.Watch(ctx, keys...).Err(); err != nil {
		return nil, unavailable(err, "watch")
	}

	owned := keys[:0]
	for _, k := range keys {
		owner, err := tx.Get(ctx, k).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			return nil, unavailable(err, "get")
		}
		if owner == imsi {
			owned = append(owned, k)
		}
	}
	return owned, nil
}

// AuthInfo returns the authentication material of a subscriber
func (b *Backend) AuthInfo(ctx context.Context, supi string) (*domain.AuthInfo, error) {
	doc, err := b.read(ctx, b.client, IMSIFromSUPI(supi))
	if err != nil {
		return nil, err
	}
	return doc.authInfo(), nil
}

// UpdateSQN stores sqn, truncated to 48 bits
func (b *Backend) UpdateSQN(ctx context.Context, supi string, sqn uint64) error {
	return b.update(ctx, supi, func(doc *Document) {
		doc.Security.SQN = sqn & SQNMask
	})
}

// IncrementSQN advances the stored SQN by one SEQ step, wrapping at 48 bits
func (b *Backend) IncrementSQN(ctx context.Context, supi string) error {
	return b.update(ctx, supi, func(doc *Document) {
		doc.Security.SQN = (doc.Security.SQN + sqnStep) & SQNMask
	})
}

// UpdateIMEISV records the equipment identity last seen for a subscriber
func (b *Backend) UpdateIMEISV(ctx context.Context, supi, imeisv string) error {
	return b.update(ctx, supi, func(doc *Document) {
		doc.IMEISV = imeisv
	})
}

// SubscriptionData returns the stored subscription of a subscriber
func (b *Backend) SubscriptionData(ctx context.Context, supi string) (*domain.SubscriptionData, error) {
	doc, err := b.read(ctx, b.client, IMSIFromSUPI(supi))
	if err != nil {
		return nil, err
	}
	data := doc.SubscriptionData
	return &data, nil
}

// MsisdnData looks a subscriber up by IMSI first and MSISDN second
func (b *Backend) MsisdnData(ctx context.Context, imsiOrMsisdn string) (*domain.MsisdnData, error) {
	id := IMSIFromSUPI(imsiOrMsisdn)

	doc, err := b.read(ctx, b.client, id)
	if errors.Is(err, dbierrors.ErrSubscriberNotFound) {
		var imsi string
		imsi, err = b.client.Get(ctx, b.msisdnKey(id)).Result()
		switch {
		case errors.Is(err, redis.Nil):
			return nil, notFound(imsiOrMsisdn)
		case err != nil:
			return nil, unavailable(err, "msisdn_data")
		}
		doc, err = b.read(ctx, b.client, imsi)
	}
	if err != nil {
		return nil, err
	}

	return &domain.MsisdnData{IMSI: doc.IMSI, MSISDN: doc.MSISDN}, nil
}

// ImsData returns the IMS view of a subscriber
func (b *Backend) ImsData(ctx context.Context, supi string) (*domain.ImsData, error) {
	doc, err := b.read(ctx, b.client, IMSIFromSUPI(supi))
	if err != nil {
		return nil, err
	}
	return &domain.ImsData{MSISDN: doc.MSISDN, IFC: doc.IFC}, nil
}

// SessionData resolves the stored session of a subscriber
func (b *Backend) SessionData(ctx context.Context, query domain.SessionQuery) (*domain.SessionData, error) {
	doc, err := b.read(ctx, b.client, IMSIFromSUPI(query.SUPI))
	if err != nil {
		return nil, err
	}

	rec, err := doc.selectSession(query)
	if err != nil {
		b.logger.WithError(err).WithField("supi", query.SUPI).WithField("dnn", query.DNN).
			Error("Cannot resolve session")
		return nil, err
	}

	return &domain.SessionData{
		Session: domain.Session{
			Name: rec.Name,
			AMBR: rec.AMBR,
			QoS:  rec.QoS,
		},
	}, nil
}

// getter is satisfied by both the client and a WATCH transaction
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (b *Backend) read(ctx context.Context, c getter, imsi string) (*Document, error) {
	data, err := c.Get(ctx, b.subscriberKey(imsi)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, notFound(imsi)
	case err != nil:
		return nil, unavailable(err, "get")
	}
	return decodeDocument(data)
}

// update applies fn to the stored document in an optimistic transaction
func (b *Backend) update(ctx context.Context, supi string, fn func(*Document)) error {
	imsi := IMSIFromSUPI(supi)
	key := b.subscriberKey(imsi)

	return b.watch(ctx, key, func(tx *redis.Tx) error {
		doc, err := b.read(ctx, tx, imsi)
		if err != nil {
			return err
		}
		fn(doc)

		data, err := encodeDocument(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	})
}

// watch runs fn under WATCH key and retries when another writer got there first
func (b *Backend) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			var dbiErr *dbierrors.DBIError
			if err != nil && !errors.As(err, &dbiErr) {
				return unavailable(err, "transaction")
			}
			return err
		}
		b.logger.WithField("key", key).WithField("attempt", i+1).Debug("Transaction conflict, retrying")
	}
	return dbierrors.Newf(dbierrors.ErrCodeBackendUnavailable, component,
		"transaction on %s kept conflicting", key).
		WithMetadata("attempts", maxTxRetries)
}

func notFound(id string) error {
	return dbierrors.Newf(dbierrors.ErrCodeSubscriberNotFound, component,
		"subscriber %s not found", id).
		WithMetadata("id", id)
}

func unavailable(err error, op string) error {
	return dbierrors.WrapError(err, dbierrors.ErrCodeBackendUnavailable, component, "subscriber store unavailable").
		WithMetadata("operation", op)
}
