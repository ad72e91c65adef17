package docdb

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
)

const testIMSI = "001010000000001"

func int32p(v int32) *int32 { return &v }

func testDocument() *Document {
	internetQoS := domain.QoS{
		Index: 9,
		ARP: domain.ARP{
			PriorityLevel:           8,
			PreEmptionCapability:    domain.PreEmptionDisabled,
			PreEmptionVulnerability: domain.PreEmptionEnabled,
		},
	}
	return &Document{
		SubscriptionData: domain.SubscriptionData{
			IMSI:   testIMSI,
			MSISDN: []string{"821012345678"},
			AMBR:   domain.Bitrate{Uplink: 1 << 30, Downlink: 1 << 30},
			Slices: []domain.SliceData{
				{
					SNssai:  domain.SNssai{SST: 1},
					Default: true,
					Sessions: []domain.SessionRecord{
						{Name: "internet", AMBR: domain.Bitrate{Uplink: 1000, Downlink: 2000}, QoS: internetQoS},
						{Name: "internet", ChargingCharacteristic: int32p(3), QoS: domain.QoS{Index: 6}},
						{Name: "*", QoS: domain.QoS{Index: 8}},
					},
				},
				{
					SNssai: domain.SNssai{SST: 2, SD: 0x10},
					Sessions: []domain.SessionRecord{
						{Name: "ims", ChargingCharacteristic: int32p(1), QoS: domain.QoS{Index: 5}},
					},
				},
			},
		},
		Security: Security{
			K:   []byte{0x46, 0x5b, 0x5c, 0xe8},
			OPc: []byte{0xe8, 0xed, 0x28, 0x9d},
			AMF: []byte{0x80, 0x00},
			SQN: 64,
		},
		IFC: []domain.IfcTrigger{{Priority: 0, ApplicationSrv: "sip:as.ims.example.org"}},
	}
}

type BackendSuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	backend *Backend
	ctx     context.Context
}

func TestBackendSuite(t *testing.T) {
	suite.Run(t, new(BackendSuite))
}

func (s *BackendSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr(), MaxRetries: -1})
	s.backend = New(client, DefaultKeyPrefix, nil)
	s.ctx = context.Background()
	s.Require().NoError(s.backend.Put(s.ctx, testDocument()))
}

func (s *BackendSuite) TearDownTest() {
	s.backend.Final()
}

func (s *BackendSuite) TestKeysLayout() {
	s.True(s.mr.Exists("dbi:subscriber:" + testIMSI))
	got, err := s.mr.Get("dbi:msisdn:821012345678")
	s.Require().NoError(err)
	s.Equal(testIMSI, got)
}

func (s *BackendSuite) TestAuthInfo() {
	info, err := s.backend.AuthInfo(s.ctx, "imsi-"+testIMSI)
	s.Require().NoError(err)
	s.Equal([]byte{0x46, 0x5b, 0x5c, 0xe8}, info.K)
	s.True(info.UseOPc)
	s.Equal(uint64(64), info.SQN)
}

func (s *BackendSuite) TestUpdateSQNMasks48Bits() {
	s.Require().NoError(s.backend.UpdateSQN(s.ctx, "imsi-"+testIMSI, 0x1_0000_0000_0005))

	info, err := s.backend.AuthInfo(s.ctx, testIMSI)
	s.Require().NoError(err)
	s.Equal(uint64(5), info.SQN)
}

func (s *BackendSuite) TestIncrementSQN() {
	s.Require().NoError(s.backend.IncrementSQN(s.ctx, testIMSI))
	info, err := s.backend.AuthInfo(s.ctx, testIMSI)
	s.Require().NoError(err)
	s.Equal(uint64(96), info.SQN)

	s.Require().NoError(s.backend.UpdateSQN(s.ctx, testIMSI, SQNMask-15))
	s.Require().NoError(s.backend.IncrementSQN(s.ctx, testIMSI))
	info, err = s.backend.AuthInfo(s.ctx, testIMSI)
	s.Require().NoError(err)
	s.Equal(uint64(16), info.SQN, "increment wraps at 48 bits")
}

func (s *BackendSuite) TestUpdateIMEISV() {
	s.Require().NoError(s.backend.UpdateIMEISV(s.ctx, testIMSI, "4370816125816151"))

	sub, err := s.backend.SubscriptionData(s.ctx, testIMSI)
	s.Require().NoError(err)
	s.Equal("4370816125816151", sub.IMEISV)
	s.Len(sub.Slices, 2)
}

func (s *BackendSuite) TestMsisdnData() {
	byIMSI, err := s.backend.MsisdnData(s.ctx, "imsi-"+testIMSI)
	s.Require().NoError(err)
	s.Equal(testIMSI, byIMSI.IMSI)

	byMSISDN, err := s.backend.MsisdnData(s.ctx, "821012345678")
	s.Require().NoError(err)
	s.Equal(byIMSI, byMSISDN)

	_, err = s.backend.MsisdnData(s.ctx, "999")
	s.ErrorIs(err, dbierrors.ErrSubscriberNotFound)
}

func (s *BackendSuite) TestImsData() {
	ims, err := s.backend.ImsData(s.ctx, testIMSI)
	s.Require().NoError(err)
	s.Equal([]string{"821012345678"}, ims.MSISDN)
	s.Require().Len(ims.IFC, 1)
	s.Equal("sip:as.ims.example.org", ims.IFC[0].ApplicationSrv)
}

func (s *BackendSuite) TestPutReplacesMsisdnIndex() {
	doc := testDocument()
	doc.MSISDN = []string{"821099999999"}
	s.Require().NoError(s.backend.Put(s.ctx, doc))

	s.False(s.mr.Exists("dbi:msisdn:821012345678"))
	_, err := s.backend.MsisdnData(s.ctx, "821099999999")
	s.NoError(err)
}

func (s *BackendSuite) TestMovedMsisdnKeepsNewOwner() {
	const other = "001010000000002"
	moved := testDocument()
	moved.IMSI = other
	s.Require().NoError(s.backend.Put(s.ctx, moved))

	dropped := testDocument()
	dropped.MSISDN = nil
	s.Require().NoError(s.backend.Put(s.ctx, dropped))

	data, err := s.backend.MsisdnData(s.ctx, "821012345678")
	s.Require().NoError(err)
	s.Equal(other, data.IMSI)

	s.Require().NoError(s.backend.Put(s.ctx, testDocument()))
	s.Require().NoError(s.backend.Put(s.ctx, moved))
	s.Require().NoError(s.backend.Delete(s.ctx, testIMSI))

	data, err = s.backend.MsisdnData(s.ctx, "821012345678")
	s.Require().NoError(err)
	s.Equal(other, data.IMSI)
}

func (s *BackendSuite) TestPutNormalizesSUPI() {
	doc := testDocument()
	doc.IMSI = "imsi-001010000000003"
	doc.MSISDN = []string{"821033333333"}
	s.Require().NoError(s.backend.Put(s.ctx, doc))

	s.True(s.mr.Exists("dbi:subscriber:001010000000003"))
	s.False(s.mr.Exists("dbi:subscriber:imsi-001010000000003"))
	s.Equal("imsi-001010000000003", doc.IMSI, "caller document is not modified")

	sub, err := s.backend.SubscriptionData(s.ctx, "001010000000003")
	s.Require().NoError(err)
	s.Equal("001010000000003", sub.IMSI)

	data, err := s.backend.MsisdnData(s.ctx, "821033333333")
	s.Require().NoError(err)
	s.Equal("001010000000003", data.IMSI)
}

func (s *BackendSuite) TestDelete() {
	s.Require().NoError(s.backend.Delete(s.ctx, "imsi-"+testIMSI))
	s.False(s.mr.Exists("dbi:msisdn:821012345678"))

	_, err := s.backend.AuthInfo(s.ctx, testIMSI)
	s.ErrorIs(err, dbierrors.ErrSubscriberNotFound)
	s.ErrorIs(s.backend.Delete(s.ctx, testIMSI), dbierrors.ErrSubscriberNotFound)
}

func (s *BackendSuite) TestUnknownSubscriber() {
	_, err := s.backend.AuthInfo(s.ctx, "imsi-001019999999999")
	s.ErrorIs(err, dbierrors.ErrSubscriberNotFound)
	s.ErrorIs(s.backend.IncrementSQN(s.ctx, "imsi-001019999999999"), dbierrors.ErrSubscriberNotFound)
	s.ErrorIs(s.backend.Put(s.ctx, &Document{}), dbierrors.ErrInvalidArgument)
}

func (s *BackendSuite) TestCorruptDocument() {
	s.Require().NoError(s.mr.Set("dbi:subscriber:123", "{not json"))
	_, err := s.backend.SubscriptionData(s.ctx, "123")
	s.ErrorIs(err, dbierrors.ErrParse)
}

func (s *BackendSuite) TestUnavailable() {
	s.mr.Close()
	_, err := s.backend.AuthInfo(s.ctx, testIMSI)
	s.ErrorIs(err, dbierrors.ErrBackendUnavailable)
	s.ErrorIs(s.backend.Ping(s.ctx), dbierrors.ErrBackendUnavailable)
}

func (s *BackendSuite) TestSessionData() {
	tests := []struct {
		name      string
		query     domain.SessionQuery
		wantIndex uint8
		wantErr   error
	}{
		{name: "default slice default profile", query: domain.SessionQuery{DNN: "Internet", ChargingCharacteristic: -1}, wantIndex: 9},
		{name: "exact charging characteristic", query: domain.SessionQuery{DNN: "internet", ChargingCharacteristic: 3}, wantIndex: 6},
		{name: "unknown characteristic falls back to default", query: domain.SessionQuery{DNN: "internet", ChargingCharacteristic: 12}, wantIndex: 9},
		{name: "unknown dnn uses wildcard", query: domain.SessionQuery{DNN: "corp", ChargingCharacteristic: 0}, wantIndex: 8},
		{name: "slice by s-nssai", query: domain.SessionQuery{SNssai: &domain.SNssai{SST: 2, SD: 0x10}, DNN: "ims", ChargingCharacteristic: 1}, wantIndex: 5},
		{name: "slice without default profile", query: domain.SessionQuery{SNssai: &domain.SNssai{SST: 2}, DNN: "ims", ChargingCharacteristic: 4}, wantErr: dbierrors.ErrNoChargingProfile},
		{name: "slice without dnn", query: domain.SessionQuery{SNssai: &domain.SNssai{SST: 2}, DNN: "internet"}, wantErr: dbierrors.ErrNoAPNProfile},
		{name: "unsubscribed slice", query: domain.SessionQuery{SNssai: &domain.SNssai{SST: 3}, DNN: "internet"}, wantErr: dbierrors.ErrNoAPNProfile},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			tt.query.SUPI = "imsi-" + testIMSI
			data, err := s.backend.SessionData(s.ctx, tt.query)
			if tt.wantErr != nil {
				s.ErrorIs(err, tt.wantErr)
				return
			}
			s.Require().NoError(err)
			s.Equal(tt.wantIndex, data.Session.QoS.Index)
		})
	}
}

func TestIMSIFromSUPI(t *testing.T) {
	assert.Equal(t, testIMSI, IMSIFromSUPI("imsi-"+testIMSI))
	assert.Equal(t, testIMSI, IMSIFromSUPI("IMSI-"+testIMSI))
	assert.Equal(t, "nai-user@example.org", IMSIFromSUPI("nai-user@example.org"))
	assert.Equal(t, "imsi-", IMSIFromSUPI("imsi-"))
}

func TestDialFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Dial(context.Background(), Options{Addr: addr}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbierrors.ErrBackendUnavailable)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := Dial(context.Background(), Options{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer b.Final()
	assert.Equal(t, Name, b.Name())
	assert.Equal(t, DefaultKeyPrefix, b.prefix)
}
