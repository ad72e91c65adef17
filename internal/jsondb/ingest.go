package jsondb

import (
	"context"
	"errors"
	"io"
	"math"
	"os"

	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
	"github.com/mir00r/subscriber-dbi/internal/field"
	"github.com/mir00r/subscriber-dbi/internal/store"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

// Profile id bounds. -1 is the APN default profile.
const (
	minProfileID = domain.DefaultChargingCharacteristic
	maxProfileID = 65535
)

// Load reads the profile document at path and stores it as APN apn.
// Either every profile of the document becomes visible or none does.
func (b *Backend) Load(ctx context.Context, path, apn string) error {
	log := b.logger.IngestLogger(apn, path)

	if err := b.checkNotLoaded(apn); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Error("Cannot read profile document")
		return dbierrors.WrapError(err, dbierrors.ErrCodeIO, component, "cannot read profile document").
			WithMetadata("path", path)
	}

	return b.load(data, apn, log)
}

// LoadReader is Load for a document that is not on disk
func (b *Backend) LoadReader(ctx context.Context, r io.Reader, apn string) error {
	log := b.logger.IngestLogger(apn, "")

	if err := b.checkNotLoaded(apn); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return dbierrors.WrapError(err, dbierrors.ErrCodeIO, component, "cannot read profile document")
	}

	return b.load(data, apn, log)
}

func (b *Backend) checkNotLoaded(apn string) error {
	if apn == "" {
		return dbierrors.NewError(dbierrors.ErrCodeInvalidArgument, component, "apn name must not be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return alreadyLoaded(b.store, apn)
}

func (b *Backend) load(data []byte, apn string, log *logger.Logger) error {
	profiles, err := parseDocument(data)
	if err != nil {
		log.WithError(err).Error("Invalid profile document")
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// the document was read without the write lock held
	if err := alreadyLoaded(b.store, apn); err != nil {
		return err
	}

	rec, err := b.store.AllocateAPN(apn)
	if err != nil {
		log.WithError(err).Error("Too many APNs")
		return err
	}

	if err := populate(rec, profiles, log); err != nil {
		b.store.Release(rec)
		log.WithError(err).Error("Profile document rejected, APN rolled back")
		return err
	}

	if err := b.store.Commit(rec); err != nil {
		b.store.Release(rec)
		return err
	}

	log.WithField("profiles", rec.ProfileCount()).Info("APN profiles loaded")
	return nil
}

// Validate checks a profile document without loading it anywhere and returns
// the number of profiles it holds.
func Validate(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, dbierrors.WrapError(err, dbierrors.ErrCodeIO, component, "cannot read profile document")
	}

	profiles, err := parseDocument(data)
	if err != nil {
		return 0, err
	}
	return checkProfiles(profiles)
}

// Reload replaces the profiles of apn with the document at path, loading it
// if apn is not present yet. A rejected document leaves the current profiles
// in place.
func (b *Backend) Reload(ctx context.Context, path, apn string) error {
	log := b.logger.IngestLogger(apn, path)
	if apn == "" {
		return dbierrors.NewError(dbierrors.ErrCodeInvalidArgument, component, "apn name must not be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Error("Cannot read profile document")
		return dbierrors.WrapError(err, dbierrors.ErrCodeIO, component, "cannot read profile document").
			WithMetadata("path", path)
	}

	profiles, err := parseDocument(data)
	if err == nil {
		_, err = checkProfiles(profiles)
	}
	if err != nil {
		log.WithError(err).Error("Invalid profile document, keeping current profiles")
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.store.FindAPN(apn); ok {
		b.store.Release(old)
	}

	rec, err := b.store.AllocateAPN(apn)
	if err != nil {
		log.WithError(err).Error("Too many APNs")
		return err
	}
	if err := populate(rec, profiles, log); err != nil {
		b.store.Release(rec)
		return err
	}
	if err := b.store.Commit(rec); err != nil {
		b.store.Release(rec)
		return err
	}

	log.WithField("profiles", rec.ProfileCount()).Info("APN profiles reloaded")
	return nil
}

// checkProfiles populates a scratch record so a document can be judged
// before anything live is touched
func checkProfiles(profiles []field.Object) (int, error) {
	scratch := store.NewAPNStore(1)
	rec, err := scratch.AllocateAPN("validate")
	if err != nil {
		return 0, err
	}
	if err := populate(rec, profiles, logger.NewNop()); err != nil {
		return 0, err
	}
	return rec.ProfileCount(), nil
}

func alreadyLoaded(s *store.APNStore, apn string) error {
	if _, ok := s.FindAPN(apn); ok {
		return dbierrors.Newf(dbierrors.ErrCodeAPNAlreadyLoaded, component,
			"apn %s is already loaded", apn).
			WithMetadata("apn", apn)
	}
	return nil
}

func parseDocument(data []byte) ([]field.Object, error) {
	root, err := field.Parse(data)
	if err != nil {
		return nil, err
	}

	items, ok := root.([]any)
	if !ok {
		return nil, dbierrors.NewError(dbierrors.ErrCodeSchema, component, "root must be an array")
	}

	profiles := make([]field.Object, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, dbierrors.Newf(dbierrors.ErrCodeSchema, component,
				"profile %d must be an object", i).
				WithMetadata("index", i)
		}
		profiles = append(profiles, obj)
	}
	return profiles, nil
}

func populate(rec *store.APNRecord, profiles []field.Object, log *logger.Logger) error {
	for _, obj := range profiles {
		id, _, err := field.Int[int32](obj, "id", true, minProfileID, maxProfileID)
		if err != nil {
			return err
		}

		if err := rec.CheckDuplicate(id); err != nil {
			return err
		}

		p, err := rec.AllocateProfile(id)
		if err != nil {
			return err
		}

		log.WithField("charging_id", id).Info("Loading json profile")

		qos, err := decodeQoS(obj)
		if err != nil {
			rec.ReleaseProfile(p)
			var dbiErr *dbierrors.DBIError
			if errors.As(err, &dbiErr) {
				dbiErr.WithMetadata("id", id)
			}
			return err
		}
		p.QoS = qos

		if err := rec.CommitProfile(p); err != nil {
			rec.ReleaseProfile(p)
			return err
		}
	}
	return nil
}

func decodeQoS(obj field.Object) (domain.QoS, error) {
	var qos domain.QoS

	index, _, err := field.Int[uint8](obj, "qci", true, 0, 16)
	if err != nil {
		return qos, err
	}
	qos.Index = index

	if qos.MBR, err = bandwidth(obj, "ambr"); err != nil {
		return qos, err
	}
	if qos.GBR, err = bandwidth(obj, "gbr"); err != nil {
		return qos, err
	}

	priority, _, err := field.Int[uint8](obj, "priority", true, 0, 15)
	if err != nil {
		return qos, err
	}
	qos.ARP.PriorityLevel = priority

	capability, err := field.Flag(obj, "pre_emption_capability")
	if err != nil {
		return qos, err
	}
	qos.ARP.PreEmptionCapability = domain.PreEmptionFromBool(capability)

	vulnerability, err := field.Flag(obj, "pre_emption_vulnerability")
	if err != nil {
		return qos, err
	}
	qos.ARP.PreEmptionVulnerability = domain.PreEmptionFromBool(vulnerability)

	return qos, nil
}

// bandwidth reads an optional {"up", "down"} object; absent sub-fields are 0
func bandwidth(obj field.Object, key string) (domain.Bitrate, error) {
	var rate domain.Bitrate

	nested, present, err := field.Obj(obj, key)
	if err != nil || !present {
		return rate, err
	}

	if rate.Uplink, _, err = field.Int[uint64](nested, "up", false, 0, math.MaxUint64); err != nil {
		return rate, err
	}
	if rate.Downlink, _, err = field.Int[uint64](nested, "down", false, 0, math.MaxUint32); err != nil {
		return rate, err
	}
	return rate, nil
}
