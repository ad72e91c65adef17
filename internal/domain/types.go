package domain

import "fmt"

// DefaultChargingCharacteristic selects an APN's default profile. Ordinary
// charging characteristics are 0..65535.
const DefaultChargingCharacteristic int32 = -1

// PreEmption is the 5GC encoding of an ARP pre-emption flag
type PreEmption uint8

const (
	// PreEmptionDisabled means the flow may not pre-empt (or be pre-empted)
	PreEmptionDisabled PreEmption = 1
	// PreEmptionEnabled means the flow may pre-empt (or be pre-empted)
	PreEmptionEnabled PreEmption = 2
)

// PreEmptionFromBool maps a 0/1 document flag onto the 5GC encoding
func PreEmptionFromBool(enabled bool) PreEmption {
	if enabled {
		return PreEmptionEnabled
	}
	return PreEmptionDisabled
}

// String returns the string representation of PreEmption
func (p PreEmption) String() string {
	switch p {
	case PreEmptionDisabled:
		return "disabled"
	case PreEmptionEnabled:
		return "enabled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Bitrate is an uplink/downlink pair in bits per second
type Bitrate struct {
	Uplink   uint64 `json:"uplink"`
	Downlink uint64 `json:"downlink"`
}

// ARP is the allocation-retention priority of a QoS flow
type ARP struct {
	PriorityLevel           uint8      `json:"priority_level"`
	PreEmptionCapability    PreEmption `json:"pre_emption_capability"`
	PreEmptionVulnerability PreEmption `json:"pre_emption_vulnerability"`
}

// QoS describes the treatment of a data flow
type QoS struct {
	Index uint8   `json:"index"`
	ARP   ARP     `json:"arp"`
	MBR   Bitrate `json:"mbr"`
	GBR   Bitrate `json:"gbr"`
}

// SNssai identifies a network slice
type SNssai struct {
	SST uint8  `json:"sst"`
	SD  uint32 `json:"sd,omitempty"`
}

// SessionQuery selects the session a caller wants QoS data for
type SessionQuery struct {
	SUPI                   string  `json:"supi,omitempty"`
	SNssai                 *SNssai `json:"s_nssai,omitempty"`
	DNN                    string  `json:"dnn"`
	ChargingCharacteristic int32   `json:"charging_characteristic"`
}

// Session is the aggregated QoS/AMBR answer for one subscriber session
type Session struct {
	Name string  `json:"name"`
	AMBR Bitrate `json:"ambr"`
	QoS  QoS     `json:"qos"`
}

// SessionData wraps the session answer
type SessionData struct {
	Session Session `json:"session"`
}

// AuthInfo holds authentication material for one subscriber
type AuthInfo struct {
	K      []byte `json:"k"`
	OPc    []byte `json:"opc,omitempty"`
	OP     []byte `json:"op,omitempty"`
	AMF    []byte `json:"amf"`
	RAND   []byte `json:"rand,omitempty"`
	UseOPc bool   `json:"use_opc"`
	SQN    uint64 `json:"sqn"`
}

// MsisdnData maps a subscriber to its IMSI and MSISDN list
type MsisdnData struct {
	IMSI   string   `json:"imsi"`
	MSISDN []string `json:"msisdn"`
}

// IfcTrigger is one initial filter criteria entry of IMS data
type IfcTrigger struct {
	Priority       int    `json:"priority"`
	ApplicationSrv string `json:"application_server"`
	DefaultHandle  int    `json:"default_handling"`
}

// ImsData carries IMS subscription details
type ImsData struct {
	MSISDN []string     `json:"msisdn"`
	IFC    []IfcTrigger `json:"ifc,omitempty"`
}

// SliceData is one subscribed slice with its DNN sessions
type SliceData struct {
	SNssai   SNssai          `json:"s_nssai"`
	Default  bool            `json:"default_indicator"`
	Sessions []SessionRecord `json:"session"`
}

// SessionRecord is a stored per-DNN session profile
type SessionRecord struct {
	Name                   string  `json:"name"`
	ChargingCharacteristic *int32  `json:"charging_characteristic,omitempty"`
	AMBR                   Bitrate `json:"ambr"`
	QoS                    QoS     `json:"qos"`
}

// SubscriptionData is the full subscriber profile
type SubscriptionData struct {
	IMSI              string      `json:"imsi"`
	MSISDN            []string    `json:"msisdn,omitempty"`
	IMEISV            string      `json:"imeisv,omitempty"`
	AMBR              Bitrate     `json:"ambr"`
	AccessRestriction uint32      `json:"access_restriction_data,omitempty"`
	NetworkAccessMode uint32      `json:"network_access_mode,omitempty"`
	SubscriberStatus  uint32      `json:"subscriber_status,omitempty"`
	Slices            []SliceData `json:"slice,omitempty"`
}
