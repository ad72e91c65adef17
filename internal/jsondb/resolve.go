package jsondb

import (
	"context"

	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
	"github.com/mir00r/subscriber-dbi/internal/store"
)

// SessionData resolves the profile for a DNN and charging characteristic.
//
// The APN is looked up by DNN and then as the wildcard "*". Within it the
// profile is looked up by charging characteristic and then as the default
// profile -1. A query for -1 itself never falls back to another id.
func (b *Backend) SessionData(ctx context.Context, query domain.SessionQuery) (*domain.SessionData, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	qos, err := resolve(b.store, query.DNN, query.ChargingCharacteristic)
	if err != nil {
		b.logger.WithError(err).WithField("dnn", query.DNN).
			WithField("charging_characteristic", query.ChargingCharacteristic).
			Error("Cannot resolve session profile")
		return nil, err
	}

	// The session AMBR is the profile MBR, not the APN AMBR; the policy
	// functions downstream cannot carry both yet.
	return &domain.SessionData{
		Session: domain.Session{
			Name: SessionName,
			AMBR: qos.MBR,
			QoS:  qos,
		},
	}, nil
}

func resolve(s *store.APNStore, dnn string, chargingChar int32) (domain.QoS, error) {
	apn, ok := s.FindAPN(dnn)
	if !ok {
		apn, ok = s.FindAPN(store.WildcardAPN)
	}
	if !ok {
		return domain.QoS{}, dbierrors.Newf(dbierrors.ErrCodeNoAPNProfile, component,
			"couldn't find a profile for dnn %s", dnn).
			WithMetadata("dnn", dnn)
	}

	profile, ok := apn.FindProfile(chargingChar)
	if !ok && chargingChar != domain.DefaultChargingCharacteristic {
		profile, ok = apn.FindProfile(domain.DefaultChargingCharacteristic)
	}
	if !ok {
		return domain.QoS{}, dbierrors.Newf(dbierrors.ErrCodeNoChargingProfile, component,
			"couldn't find a profile for dnn %s with charging characteristic %d", dnn, chargingChar).
			WithMetadata("dnn", dnn).
			WithMetadata("apn", apn.Name).
			WithMetadata("charging_characteristic", chargingChar)
	}

	return profile.QoS, nil
}
