package detect

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testToken       = common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	testTransmitter = common.HexToAddress("0x81d40f21f12a8f0e3252bccb954d722d4c464b64")
	testRecipient   = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type fakeReader struct {
	head        uint64
	headErr     error
	logsByAddr  map[common.Address][]types.Log
	filterErr   error
	filterCalls int
}

func (f *fakeReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.filterCalls++
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var out []types.Log
	for _, addr := range q.Addresses {
		out = append(out, f.logsByAddr[addr]...)
	}
	return out, nil
}

func (f *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeReader) Endpoint() string { return "http://test" }

func amountData(amount int64) []byte {
	return common.BigToHash(big.NewInt(amount)).Bytes()
}

func receivedLog(nonce common.Hash) types.Log {
	return types.Log{
		Address: testTransmitter,
		Topics: []common.Hash{
			MessageReceivedTopic,
			common.BytesToHash(common.HexToAddress("0xcafe").Bytes()),
			nonce,
		},
	}
}

func TestAlreadyReceived_ByMessageReceivedEvent(t *testing.T) {
	msgHash := common.HexToHash("0xaaaa")
	reader := &fakeReader{
		head: 1000,
		logsByAddr: map[common.Address][]types.Log{
			testTransmitter: {receivedLog(msgHash)},
		},
	}
	d := New(logger.Test(t), reader, testToken, testTransmitter, 500)

	assert.True(t, d.AlreadyReceived(context.Background(), msgHash, testRecipient, big.NewInt(1_000_000)))
}

func TestAlreadyReceived_ByTransferCorrelation(t *testing.T) {
	msgHash := common.HexToHash("0xbbbb")
	reader := &fakeReader{
		head: 1000,
		logsByAddr: map[common.Address][]types.Log{
			testToken: {{
				Address: testToken,
				Topics: []common.Hash{
					TransferTopic,
					common.Hash{},
					common.BytesToHash(testRecipient.Bytes()),
				},
				// 5% below the burned amount, within the 10% tolerance.
				Data: amountData(950_000),
			}},
		},
	}
	d := New(logger.Test(t), reader, testToken, testTransmitter, 500)

	assert.True(t, d.AlreadyReceived(context.Background(), msgHash, testRecipient, big.NewInt(1_000_000)))
}

func TestAlreadyReceived_TransferOutsideTolerance(t *testing.T) {
	reader := &fakeReader{
		head: 1000,
		logsByAddr: map[common.Address][]types.Log{
			testToken: {{
				Address: testToken,
				Topics:  []common.Hash{TransferTopic, {}, common.BytesToHash(testRecipient.Bytes())},
				Data:    amountData(500_000),
			}},
		},
	}
	d := New(logger.Test(t), reader, testToken, testTransmitter, 500)

	assert.False(t, d.AlreadyReceived(context.Background(), common.HexToHash("0xcccc"), testRecipient, big.NewInt(1_000_000)))
}

func TestAlreadyReceived_ReaderErrorsDegradeToFalse(t *testing.T) {
	d := New(logger.Test(t), &fakeReader{headErr: errors.New("rpc down")}, testToken, testTransmitter, 500)
	assert.False(t, d.AlreadyReceived(context.Background(), common.HexToHash("0xdddd"), testRecipient, big.NewInt(1)))

	d = New(logger.Test(t), &fakeReader{head: 100, filterErr: errors.New("rpc down")}, testToken, testTransmitter, 500)
	assert.False(t, d.AlreadyReceived(context.Background(), common.HexToHash("0xdddd"), testRecipient, big.NewInt(1)))
}

func TestAlreadyReceived_PositiveResultCached(t *testing.T) {
	msgHash := common.HexToHash("0xeeee")
	reader := &fakeReader{
		head: 1000,
		logsByAddr: map[common.Address][]types.Log{
			testTransmitter: {receivedLog(msgHash)},
		},
	}
	d := New(logger.Test(t), reader, testToken, testTransmitter, 500)

	require.True(t, d.AlreadyReceived(context.Background(), msgHash, testRecipient, big.NewInt(1)))
	callsAfterFirst := reader.filterCalls

	require.True(t, d.AlreadyReceived(context.Background(), msgHash, testRecipient, big.NewInt(1)))
	assert.Equal(t, callsAfterFirst, reader.filterCalls)
}

func TestAlreadyReceived_ZeroAmountSkipsTransferScan(t *testing.T) {
	reader := &fakeReader{head: 1000}
	d := New(logger.Test(t), reader, testToken, testTransmitter, 500)

	assert.False(t, d.AlreadyReceived(context.Background(), common.HexToHash("0xffff"), testRecipient, big.NewInt(0)))
	// Only the MessageReceived scan ran.
	assert.Equal(t, 1, reader.filterCalls)
}

func TestAmountWithinTolerance(t *testing.T) {
	cases := []struct {
		name     string
		got      int64
		expected int64
		want     bool
	}{
		{"exact", 1_000_000, 1_000_000, true},
		{"boundary below", 900_000, 1_000_000, true},
		{"boundary above", 1_100_000, 1_000_000, true},
		{"just outside below", 899_999, 1_000_000, false},
		{"just outside above", 1_100_001, 1_000_000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, amountWithinTolerance(big.NewInt(tc.got), big.NewInt(tc.expected)))
		})
	}
}
