package message

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixture assembles a full v2 burn message with known golden values.
func buildFixture(t *testing.T) []byte {
	t.Helper()

	buf := make([]byte, offBody+bodyOffExpirationBlock+slotSize)

	binary.BigEndian.PutUint32(buf[offVersion:], headerVersionV2)
	binary.BigEndian.PutUint32(buf[offSourceDomain:], 0)      // Ethereum
	binary.BigEndian.PutUint32(buf[offDestinationDomain:], 6) // Base
	binary.BigEndian.PutUint64(buf[offNonce+24:], 987654321)
	copy(buf[offSender+12:], common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes())
	copy(buf[offRecipient+12:], common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes())
	copy(buf[offDestinationCaller+12:], common.HexToAddress("0x3333333333333333333333333333333333333333").Bytes())
	binary.BigEndian.PutUint32(buf[offMinFinalityThreshold:], 1000)
	binary.BigEndian.PutUint32(buf[offFinalityThresholdExecuted:], 2000)

	body := buf[offBody:]
	binary.BigEndian.PutUint32(body[bodyOffVersion:], bodyVersionV2)
	copy(body[bodyOffBurnToken+12:], common.HexToAddress("0x4444444444444444444444444444444444444444").Bytes())
	copy(body[bodyOffMintRecipient+12:], common.HexToAddress("0x5555555555555555555555555555555555555555").Bytes())
	big.NewInt(123_456_789).FillBytes(body[bodyOffAmount : bodyOffAmount+slotSize])
	copy(body[bodyOffMessageSender+12:], common.HexToAddress("0x6666666666666666666666666666666666666666").Bytes())
	big.NewInt(500).FillBytes(body[bodyOffMaxFee : bodyOffMaxFee+slotSize])
	big.NewInt(250).FillBytes(body[bodyOffFeeExecuted : bodyOffFeeExecuted+slotSize])
	big.NewInt(21_000_000).FillBytes(body[bodyOffExpirationBlock : bodyOffExpirationBlock+slotSize])

	return buf
}

func TestDecodeBurnMessage_Golden(t *testing.T) {
	buf := buildFixture(t)

	m, err := DecodeBurnMessage(buf)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), m.Version)
	assert.Equal(t, uint32(0), m.SourceDomain)
	assert.Equal(t, uint32(6), m.DestinationDomain)
	assert.Equal(t, uint64(987654321), m.Nonce)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), m.Sender)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), m.Recipient)
	assert.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), m.DestinationCaller)
	assert.Equal(t, uint32(1000), m.MinFinalityThreshold)
	assert.Equal(t, uint32(2000), m.FinalityThresholdExecuted)

	assert.Equal(t, uint32(1), m.BodyVersion)
	assert.Equal(t, common.HexToAddress("0x4444444444444444444444444444444444444444"), m.BurnToken)
	assert.Equal(t, common.HexToAddress("0x5555555555555555555555555555555555555555"), m.MintRecipient)
	assert.Equal(t, big.NewInt(123_456_789), m.Amount)

	require.True(t, m.HasMessageSender)
	assert.Equal(t, common.HexToAddress("0x6666666666666666666666666666666666666666"), m.MessageSender)
	require.True(t, m.HasMaxFee)
	assert.Equal(t, big.NewInt(500), m.MaxFee)
	require.True(t, m.HasFeeExecuted)
	assert.Equal(t, big.NewInt(250), m.FeeExecuted)
	require.True(t, m.HasExpirationBlock)
	assert.Equal(t, big.NewInt(21_000_000), m.ExpirationBlock)
	assert.Empty(t, m.TruncatedAt)
}

func TestDecodeBurnMessage_TruncatedSuffix(t *testing.T) {
	full := buildFixture(t)

	testCases := []struct {
		name        string
		length      int
		truncatedAt string
	}{
		{
			name:        "cut before message sender",
			length:      offBody + bodyOffMessageSender,
			truncatedAt: "messageSender",
		},
		{
			name:        "cut before max fee",
			length:      offBody + bodyOffMaxFee,
			truncatedAt: "maxFee",
		},
		{
			name:        "cut before fee executed",
			length:      offBody + bodyOffFeeExecuted,
			truncatedAt: "feeExecuted",
		},
		{
			name:        "cut before expiration block",
			length:      offBody + bodyOffExpirationBlock,
			truncatedAt: "expirationBlock",
		},
		{
			name:        "cut mid expiration block slot",
			length:      offBody + bodyOffExpirationBlock + 16,
			truncatedAt: "expirationBlock",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := DecodeBurnMessage(full[:tc.length])
			require.NoError(t, err)

			assert.Equal(t, tc.truncatedAt, m.TruncatedAt)
			assert.False(t, m.HasExpirationBlock)
			assert.Nil(t, m.ExpirationBlock)
			// Required fields still decode.
			assert.Equal(t, big.NewInt(123_456_789), m.Amount)
		})
	}
}

func TestDecodeBurnMessage_ShortBuffer(t *testing.T) {
	full := buildFixture(t)

	_, err := DecodeBurnMessage(full[:MinMessageLen-1])
	require.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeBurnMessage(nil)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeBurnMessage_VersionGate(t *testing.T) {
	buf := buildFixture(t)
	binary.BigEndian.PutUint32(buf[offVersion:], 7)
	_, err := DecodeBurnMessage(buf)
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	buf = buildFixture(t)
	binary.BigEndian.PutUint32(buf[offBody+bodyOffVersion:], 0)
	_, err = DecodeBurnMessage(buf)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeBurnMessage_DoesNotMutateInput(t *testing.T) {
	buf := buildFixture(t)
	snapshot := make([]byte, len(buf))
	copy(snapshot, buf)

	_, err := DecodeBurnMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, snapshot, buf)
}

func TestHash_DistinctMessages(t *testing.T) {
	a := buildFixture(t)
	b := buildFixture(t)
	binary.BigEndian.PutUint64(b[offNonce+24:], 987654322)

	assert.Equal(t, Hash(a), Hash(a))
	assert.NotEqual(t, Hash(a), Hash(b))
}
