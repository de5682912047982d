// Package message implements the fixed-offset codec for CCTP v2 burn
// messages as emitted by the source chain's MessageTransmitter in the
// MessageSent(bytes) event.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wire layout offsets. Header fields are fixed-width; the burn body starts
// immediately after the header and is itself fixed-width up to the optional
// hook data suffix.
const (
	offVersion                   = 0
	offSourceDomain              = 4
	offDestinationDomain         = 8
	offNonce                     = 12
	offSender                    = 44
	offRecipient                 = 76
	offDestinationCaller         = 108
	offMinFinalityThreshold      = 140
	offFinalityThresholdExecuted = 144
	offBody                      = 148

	bodyOffVersion         = 0
	bodyOffBurnToken       = 4
	bodyOffMintRecipient   = 36
	bodyOffAmount          = 68
	bodyOffMessageSender   = 100
	bodyOffMaxFee          = 132
	bodyOffFeeExecuted     = 164
	bodyOffExpirationBlock = 196

	slotSize = 32
	wordSize = 4

	// MinMessageLen covers every required field through the burn amount.
	MinMessageLen = offBody + bodyOffAmount + slotSize
)

// Supported wire versions. Anything else fails decoding outright rather than
// reading the wrong bytes at the v2 offsets.
const (
	headerVersionV2 = 1
	bodyVersionV2   = 1
)

var (
	// ErrShortBuffer reports a buffer too short for a required field.
	ErrShortBuffer = errors.New("message buffer too short")
	// ErrUnsupportedVersion reports a header or body version this decoder
	// does not understand.
	ErrUnsupportedVersion = errors.New("unsupported message version")
)

// BurnMessage is the decoded form of a burn-and-mint bridge message. Fields
// past the amount are optional on the wire; their Has* flags report whether
// the buffer carried them. The struct never aliases the input buffer.
type BurnMessage struct {
	Version                   uint32
	SourceDomain              uint32
	DestinationDomain         uint32
	Nonce                     uint64
	NonceSlot                 [32]byte
	Sender                    common.Address
	Recipient                 common.Address
	DestinationCaller         common.Address
	MinFinalityThreshold      uint32
	FinalityThresholdExecuted uint32

	BodyVersion   uint32
	BurnToken     common.Address
	MintRecipient common.Address
	Amount        *big.Int

	MessageSender    common.Address
	HasMessageSender bool

	MaxFee    *big.Int
	HasMaxFee bool

	FeeExecuted    *big.Int
	HasFeeExecuted bool

	ExpirationBlock    *big.Int
	HasExpirationBlock bool

	// TruncatedAt names the first optional field the buffer was too short
	// for, empty when the full fixed-width body was present.
	TruncatedAt string
}

// DecodeBurnMessage decodes a raw burn-message buffer. It fails with
// ErrShortBuffer when the buffer does not cover the required fields (header
// through burn amount) and with ErrUnsupportedVersion when the header or
// body version is unknown. Optional suffix fields that the buffer does not
// cover leave their Has* flag false and set TruncatedAt; that is not an
// error. The input is never mutated.
func DecodeBurnMessage(buf []byte) (*BurnMessage, error) {
	if len(buf) < MinMessageLen {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrShortBuffer, len(buf), MinMessageLen)
	}

	m := &BurnMessage{
		Version:                   binary.BigEndian.Uint32(buf[offVersion:]),
		SourceDomain:              binary.BigEndian.Uint32(buf[offSourceDomain:]),
		DestinationDomain:         binary.BigEndian.Uint32(buf[offDestinationDomain:]),
		MinFinalityThreshold:      binary.BigEndian.Uint32(buf[offMinFinalityThreshold:]),
		FinalityThresholdExecuted: binary.BigEndian.Uint32(buf[offFinalityThresholdExecuted:]),
	}
	if m.Version != headerVersionV2 {
		return nil, fmt.Errorf("%w: header version %d", ErrUnsupportedVersion, m.Version)
	}

	copy(m.NonceSlot[:], buf[offNonce:offNonce+slotSize])
	// The nonce slot is a 32-byte field; the low 8 bytes carry the counter.
	m.Nonce = binary.BigEndian.Uint64(buf[offNonce+slotSize-8:])

	m.Sender = addressFromSlot(buf, offSender)
	m.Recipient = addressFromSlot(buf, offRecipient)
	m.DestinationCaller = addressFromSlot(buf, offDestinationCaller)

	body := buf[offBody:]
	m.BodyVersion = binary.BigEndian.Uint32(body[bodyOffVersion:])
	if m.BodyVersion != bodyVersionV2 {
		return nil, fmt.Errorf("%w: body version %d", ErrUnsupportedVersion, m.BodyVersion)
	}
	m.BurnToken = addressFromSlot(body, bodyOffBurnToken)
	m.MintRecipient = addressFromSlot(body, bodyOffMintRecipient)
	m.Amount = uintFromSlot(body, bodyOffAmount)

	// Everything past the amount is an optional suffix. Decode what the
	// buffer covers and record where it ran out instead of failing.
	switch {
	case len(body) < bodyOffMessageSender+slotSize:
		m.TruncatedAt = "messageSender"
	case len(body) < bodyOffMaxFee+slotSize:
		m.MessageSender, m.HasMessageSender = addressFromSlot(body, bodyOffMessageSender), true
		m.TruncatedAt = "maxFee"
	case len(body) < bodyOffFeeExecuted+slotSize:
		m.MessageSender, m.HasMessageSender = addressFromSlot(body, bodyOffMessageSender), true
		m.MaxFee, m.HasMaxFee = uintFromSlot(body, bodyOffMaxFee), true
		m.TruncatedAt = "feeExecuted"
	case len(body) < bodyOffExpirationBlock+slotSize:
		m.MessageSender, m.HasMessageSender = addressFromSlot(body, bodyOffMessageSender), true
		m.MaxFee, m.HasMaxFee = uintFromSlot(body, bodyOffMaxFee), true
		m.FeeExecuted, m.HasFeeExecuted = uintFromSlot(body, bodyOffFeeExecuted), true
		m.TruncatedAt = "expirationBlock"
	default:
		m.MessageSender, m.HasMessageSender = addressFromSlot(body, bodyOffMessageSender), true
		m.MaxFee, m.HasMaxFee = uintFromSlot(body, bodyOffMaxFee), true
		m.FeeExecuted, m.HasFeeExecuted = uintFromSlot(body, bodyOffFeeExecuted), true
		m.ExpirationBlock, m.HasExpirationBlock = uintFromSlot(body, bodyOffExpirationBlock), true
	}

	return m, nil
}

// Hash returns the message hash used as the attestation lookup key and the
// destination-chain correlation key: keccak256 over the raw message bytes.
func Hash(messageBytes []byte) common.Hash {
	return crypto.Keccak256Hash(messageBytes)
}

func addressFromSlot(buf []byte, off int) common.Address {
	// Addresses occupy the last 20 bytes of their 32-byte slot.
	return common.BytesToAddress(buf[off+slotSize-common.AddressLength : off+slotSize])
}

func uintFromSlot(buf []byte, off int) *big.Int {
	return new(big.Int).SetBytes(buf[off : off+slotSize])
}
