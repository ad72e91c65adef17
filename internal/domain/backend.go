package domain

import "context"

// Backend is one concrete implementation of the subscriber-data operations.
// Exactly one Backend is selected in a registry at a time; every query routed
// through the registry lands on it unchanged.
type Backend interface {
	// Name identifies the backend for selection; matching is case-insensitive
	Name() string

	// Final releases everything the backend holds. It is never implied by
	// selecting another backend.
	Final()

	// SessionData resolves QoS and AMBR for a subscriber session
	SessionData(ctx context.Context, query SessionQuery) (*SessionData, error)

	// MsisdnData looks a subscriber up by IMSI or MSISDN
	MsisdnData(ctx context.Context, imsiOrMsisdn string) (*MsisdnData, error)

	// ImsData returns IMS subscription details
	ImsData(ctx context.Context, supi string) (*ImsData, error)

	// AuthInfo returns authentication material
	AuthInfo(ctx context.Context, supi string) (*AuthInfo, error)

	// UpdateSQN stores a new sequence number
	UpdateSQN(ctx context.Context, supi string, sqn uint64) error

	// IncrementSQN advances the stored sequence number
	IncrementSQN(ctx context.Context, supi string) error

	// UpdateIMEISV stores the equipment identity last seen for a subscriber
	UpdateIMEISV(ctx context.Context, supi, imeisv string) error

	// SubscriptionData returns the full subscriber profile
	SubscriptionData(ctx context.Context, supi string) (*SubscriptionData, error)
}
