package detect

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/stretchr/testify/assert"
)

type fakeHeightReader struct {
	head uint64
	err  error
}

func (f *fakeHeightReader) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.err
}

// burnMessageWithExpiration builds a full v2 burn message carrying the given
// expiration block.
func burnMessageWithExpiration(expirationBlock uint64) []byte {
	buf := make([]byte, 148+228)
	binary.BigEndian.PutUint32(buf[0:], 1)  // header version
	binary.BigEndian.PutUint32(buf[4:], 0)  // source domain
	binary.BigEndian.PutUint32(buf[8:], 6)  // destination domain
	binary.BigEndian.PutUint64(buf[36:], 1) // nonce, low bytes of the slot

	body := buf[148:]
	binary.BigEndian.PutUint32(body[0:], 1) // body version
	copy(body[68+32-8:], common.BigToHash(big.NewInt(1_000_000)).Bytes()[24:])
	copy(body[196:228], common.BigToHash(new(big.Int).SetUint64(expirationBlock)).Bytes())
	return buf
}

func TestExpirationGuard_NotExpired(t *testing.T) {
	g := NewExpirationGuard(logger.Test(t), &fakeHeightReader{head: 100})
	status := g.Check(context.Background(), burnMessageWithExpiration(200))
	assert.False(t, status.Expired)
	assert.Equal(t, uint64(200), status.ExpirationBlock)
	assert.Equal(t, uint64(100), status.CurrentBlock)
	assert.False(t, status.CanRefund)
}

func TestExpirationGuard_Expired(t *testing.T) {
	g := NewExpirationGuard(logger.Test(t), &fakeHeightReader{head: 300})
	status := g.Check(context.Background(), burnMessageWithExpiration(200))
	assert.True(t, status.Expired)
	assert.False(t, status.CanRefund)
}

func TestExpirationGuard_ExpirationEqualsHead(t *testing.T) {
	// The message is still mintable in the expiration block itself.
	g := NewExpirationGuard(logger.Test(t), &fakeHeightReader{head: 200})
	status := g.Check(context.Background(), burnMessageWithExpiration(200))
	assert.False(t, status.Expired)
}

func TestExpirationGuard_ZeroExpirationNeverExpires(t *testing.T) {
	g := NewExpirationGuard(logger.Test(t), &fakeHeightReader{head: 1_000_000})
	status := g.Check(context.Background(), burnMessageWithExpiration(0))
	assert.False(t, status.Expired)
	assert.Zero(t, status.ExpirationBlock)
}

func TestExpirationGuard_TruncatedMessageAllowsMint(t *testing.T) {
	// A message cut before the expiration field carries no expiration.
	g := NewExpirationGuard(logger.Test(t), &fakeHeightReader{head: 1_000_000})
	status := g.Check(context.Background(), burnMessageWithExpiration(5)[:148+196])
	assert.False(t, status.Expired)
}

func TestExpirationGuard_UndecodableMessageAllowsMint(t *testing.T) {
	g := NewExpirationGuard(logger.Test(t), &fakeHeightReader{head: 100})
	status := g.Check(context.Background(), []byte{0x01, 0x02, 0x03})
	assert.False(t, status.Expired)
}

func TestExpirationGuard_HeadErrorAllowsMint(t *testing.T) {
	g := NewExpirationGuard(logger.Test(t), &fakeHeightReader{err: errors.New("rpc down")})
	status := g.Check(context.Background(), burnMessageWithExpiration(200))
	assert.False(t, status.Expired)
	assert.Equal(t, uint64(200), status.ExpirationBlock)
}
