package entropy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"raffle/internal/logger"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/suites"
	"go.uber.org/zap"
)

var suite = suites.MustFind("Ed25519")

var (
	ErrNoRound          = errors.New("no beacon round available")
	ErrStaleRound       = errors.New("beacon round is not newer than the latest one")
	ErrInvalidSignature = errors.New("invalid beacon round signature")
)

const (
	roundDomain = "RAFFLE_BEACON_ROUND"
	drawDomain  = "RAFFLE_DRAW"
)

// Round is one output of the randomness beacon.
type Round struct {
	Number     uint64
	Randomness []byte
	Signature  []byte
}

// Feed serves beacon rounds as they are published.
type Feed interface {
	// Next blocks until a round newer than the one current at call time is
	// published.
	Next(ctx context.Context) (Round, error)
}

// Beacon derives draw entropy from the first signed beacon round published
// after the draw was requested, so the outcome is unknown when a raffle is
// closed.
type Beacon struct {
	public kyber.Point
	feed   Feed
	wait   time.Duration
}

// NewBeacon creates a beacon source. A positive wait bounds how long a draw
// waits for the next round.
func NewBeacon(public kyber.Point, feed Feed, wait time.Duration) *Beacon {
	return &Beacon{
		public: public,
		feed:   feed,
		wait:   wait,
	}
}

func (b *Beacon) Entropy(ctx context.Context, raffleID uint32) (uint64, error) {
	if b.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.wait)
		defer cancel()
	}

	logger.Debug("beacon: waiting for next round...", zap.Uint32("raffle id", raffleID))
	round, err := b.feed.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("beacon: next round: %w", err)
	}
	if err := VerifyRound(b.public, round); err != nil {
		return 0, fmt.Errorf("beacon: round %d: %w", round.Number, err)
	}

	value := DrawValue(round.Randomness, raffleID)
	logger.Debug("beacon: waiting for next round... done", zap.Uint32("raffle id", raffleID), zap.Uint64("round", round.Number))
	return value, nil
}

// DrawValue is the first 8 bytes, big endian, of
// sha256("RAFFLE_DRAW" || randomness || raffleID).
func DrawValue(randomness []byte, raffleID uint32) uint64 {
	h := sha256.New()
	h.Write([]byte(drawDomain))
	h.Write(randomness)
	_ = binary.Write(h, binary.BigEndian, raffleID)
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

func roundDigest(number uint64, randomness []byte) []byte {
	h := sha256.New()
	h.Write([]byte(roundDomain))
	_ = binary.Write(h, binary.BigEndian, number)
	h.Write(randomness)
	return h.Sum(nil)
}

func VerifyRound(public kyber.Point, round Round) error {
	if len(round.Randomness) == 0 || len(round.Signature) == 0 {
		return ErrInvalidSignature
	}
	if err := schnorr.Verify(suite, public, roundDigest(round.Number, round.Randomness), round.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// SignRound signs randomness as beacon round number. Used by beacon
// operators and tests.
func SignRound(private kyber.Scalar, number uint64, randomness []byte) (Round, error) {
	signature, err := schnorr.Sign(suite, private, roundDigest(number, randomness))
	if err != nil {
		return Round{}, fmt.Errorf("sign round %d: %w", number, err)
	}
	return Round{
		Number:     number,
		Randomness: randomness,
		Signature:  signature,
	}, nil
}

func GenerateKey() (kyber.Scalar, kyber.Point) {
	private := suite.Scalar().Pick(suite.RandomStream())
	public := suite.Point().Mul(private, nil)
	return private, public
}

func ParsePublicKey(encoded string) (kyber.Point, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode beacon public key: %w", err)
	}

	public := suite.Point()
	if err := public.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal beacon public key: %w", err)
	}
	return public, nil
}

func EncodePublicKey(public kyber.Point) (string, error) {
	raw, err := public.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
