package docdb

import (
	"encoding/json"
	"strings"

	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
)

// SQNMask keeps sequence numbers within 48 bits
const SQNMask uint64 = 0xffffffffffff

// sqnStep is added on every IncrementSQN, moving the SEQ part by one
const sqnStep = 32

// Security holds the authentication material of a subscriber
type Security struct {
	K    []byte `json:"k"`
	OPc  []byte `json:"opc,omitempty"`
	OP   []byte `json:"op,omitempty"`
	AMF  []byte `json:"amf"`
	RAND []byte `json:"rand,omitempty"`
	SQN  uint64 `json:"sqn"`
}

// Document is the stored form of one subscriber
type Document struct {
	domain.SubscriptionData
	Security Security            `json:"security"`
	IFC      []domain.IfcTrigger `json:"ifc,omitempty"`
}

// IMSIFromSUPI strips the "imsi-" type prefix of a SUPI. Other values are
// returned as given.
func IMSIFromSUPI(supi string) string {
	if len(supi) > 5 && strings.EqualFold(supi[:5], "imsi-") {
		return supi[5:]
	}
	return supi
}

func (d *Document) authInfo() *domain.AuthInfo {
	return &domain.AuthInfo{
		K:      d.Security.K,
		OPc:    d.Security.OPc,
		OP:     d.Security.OP,
		AMF:    d.Security.AMF,
		RAND:   d.Security.RAND,
		UseOPc: len(d.Security.OPc) > 0,
		SQN:    d.Security.SQN & SQNMask,
	}
}

func decodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, dbierrors.WrapError(err, dbierrors.ErrCodeParse, component, "stored subscriber document is corrupt")
	}
	return &doc, nil
}

func encodeDocument(doc *Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, dbierrors.WrapError(err, dbierrors.ErrCodeInternalError, component, "cannot encode subscriber document")
	}
	return data, nil
}

// selectSession finds the stored session for a query. The slice is chosen by
// S-NSSAI, or the default slice when the query carries none. Within the slice
// the DNN is matched case-insensitively, then as the wildcard "*"; the
// charging characteristic is matched exactly, then as the default profile.
func (d *Document) selectSession(query domain.SessionQuery) (*domain.SessionRecord, error) {
	slice := d.findSlice(query.SNssai)
	if slice == nil {
		return nil, dbierrors.NewError(dbierrors.ErrCodeNoAPNProfile, component, "no subscribed slice matches the query").
			WithMetadata("imsi", d.IMSI)
	}

	candidates := sessionsNamed(slice.Sessions, query.DNN)
	if len(candidates) == 0 {
		candidates = sessionsNamed(slice.Sessions, "*")
	}
	if len(candidates) == 0 {
		return nil, dbierrors.Newf(dbierrors.ErrCodeNoAPNProfile, component,
			"couldn't find a session for dnn %s", query.DNN).
			WithMetadata("imsi", d.IMSI).
			WithMetadata("dnn", query.DNN)
	}

	if s := withCharging(candidates, query.ChargingCharacteristic); s != nil {
		return s, nil
	}
	if query.ChargingCharacteristic != domain.DefaultChargingCharacteristic {
		if s := withCharging(candidates, domain.DefaultChargingCharacteristic); s != nil {
			return s, nil
		}
	}
	return nil, dbierrors.Newf(dbierrors.ErrCodeNoChargingProfile, component,
		"couldn't find a session for dnn %s with charging characteristic %d", query.DNN, query.ChargingCharacteristic).
		WithMetadata("imsi", d.IMSI).
		WithMetadata("dnn", query.DNN).
		WithMetadata("charging_characteristic", query.ChargingCharacteristic)
}

func (d *Document) findSlice(want *domain.SNssai) *domain.SliceData {
	for i := range d.Slices {
		s := &d.Slices[i]
		if want == nil {
			if s.Default {
				return s
			}
			continue
		}
		if s.SNssai.SST == want.SST && (want.SD == 0 || s.SNssai.SD == want.SD) {
			return s
		}
	}
	if want == nil && len(d.Slices) > 0 {
		return &d.Slices[0]
	}
	return nil
}

func sessionsNamed(sessions []domain.SessionRecord, name string) []*domain.SessionRecord {
	var out []*domain.SessionRecord
	for i := range sessions {
		if strings.EqualFold(sessions[i].Name, name) {
			out = append(out, &sessions[i])
		}
	}
	return out
}

// withCharging matches a stored charging characteristic; a session without
// one is the default profile.
func withCharging(sessions []*domain.SessionRecord, cc int32) *domain.SessionRecord {
	for _, s := range sessions {
		stored := domain.DefaultChargingCharacteristic
		if s.ChargingCharacteristic != nil {
			stored = *s.ChargingCharacteristic
		}
		if stored == cc {
			return s
		}
	}
	return nil
}
