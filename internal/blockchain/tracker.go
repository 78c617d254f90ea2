package blockchain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"raffle/internal/logger"
	"raffle/internal/storage"

	"github.com/tonkeeper/tonapi-go"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
)

const (
	traceWindowSize = 50

	// traces older than the payout attempt minus this margin cannot carry it
	traceLookback = time.Minute

	rateLimitBackoff = 500 * time.Millisecond
)

var payoutOpcodeHex = fmt.Sprintf("0x%08x", PayoutOpcode)

type traceClient interface {
	GetAccountTraces(ctx context.Context, params tonapi.GetAccountTracesParams) (*tonapi.TraceIDs, error)
	GetTrace(ctx context.Context, params tonapi.GetTraceParams) (*tonapi.Trace, error)
}

// PayoutTracker finds payouts the platform wallet has already delivered by
// walking its account traces.
type PayoutTracker struct {
	client traceClient
	wallet string
}

func NewPayoutTracker(token string, walletAddress ton.AccountID) (*PayoutTracker, error) {
	logger.Debug("blockchain: initializing tonapi client...", zap.String("wallet", walletAddress.ToRaw()))

	client, err := tonapi.NewClient(tonapi.TonApiURL, tonapi.WithToken(token))
	if err != nil {
		return nil, fmt.Errorf("tonapi client: %w", err)
	}

	logger.Debug("blockchain: initializing tonapi client... done")
	return &PayoutTracker{client: client, wallet: walletAddress.ToRaw()}, nil
}

// FindPayout reports the hash of the transaction that delivered payout, if
// the wallet traces since its last attempt contain it.
func (t *PayoutTracker) FindPayout(ctx context.Context, payout *storage.Payout) (string, bool, error) {
	logger.Debug("blockchain: looking up payout...", zap.String("payout id", payout.ID), zap.Uint64("sequence", payout.Sequence))

	destination, err := ton.ParseAccountID(payout.Destination)
	if err != nil {
		return "", false, fmt.Errorf("payout %s: parse destination: %w", payout.ID, err)
	}

	var since int64
	if payout.AttemptedAt != nil {
		since = payout.AttemptedAt.Add(-traceLookback).Unix()
	}

	var beforeLt int64
	for {
		traceIDs, err := rateLimitRetry(ctx, func() (*tonapi.TraceIDs, error) {
			return t.client.GetAccountTraces(ctx, tonapi.GetAccountTracesParams{
				AccountID: t.wallet,
				Limit:     tonapi.NewOptInt(traceWindowSize),
				BeforeLt: tonapi.OptInt64{
					Value: beforeLt,
					Set:   beforeLt > 0,
				},
			})
		})
		if err != nil {
			return "", false, fmt.Errorf("wallet traces: %w", err)
		}

		for _, traceID := range traceIDs.GetTraces() {
			trace, err := rateLimitRetry(ctx, func() (*tonapi.Trace, error) {
				return t.client.GetTrace(ctx, tonapi.GetTraceParams{TraceID: traceID.GetID()})
			})
			if err != nil {
				return "", false, fmt.Errorf("wallet trace %s: %w", traceID.GetID(), err)
			}

			if hash, ok := findPayoutTrace(trace, payout.RaffleID, payout.Sequence, destination); ok {
				logger.Debug("blockchain: looking up payout... found", zap.String("payout id", payout.ID), zap.String("hash", hash))
				return hash, true, nil
			}

			if trace.Transaction.Utime < since {
				logger.Debug("blockchain: looking up payout... not found", zap.String("payout id", payout.ID))
				return "", false, nil
			}
			beforeLt = trace.Transaction.Lt
		}

		if len(traceIDs.GetTraces()) < traceWindowSize {
			logger.Debug("blockchain: looking up payout... not found", zap.String("payout id", payout.ID))
			return "", false, nil
		}
	}
}

// findPayoutTrace walks the trace for the transaction receiving the payout
// message, returning its hash.
func findPayoutTrace(trace *tonapi.Trace, raffleID uint32, sequence uint64, destination ton.AccountID) (string, bool) {
	if trace == nil {
		return "", false
	}

	if inMessage, ok := trace.Transaction.GetInMsg().Get(); ok && isPayoutMessage(inMessage, raffleID, sequence, destination) {
		return trace.Transaction.GetHash(), true
	}

	for i := range trace.Children {
		if hash, ok := findPayoutTrace(&trace.Children[i], raffleID, sequence, destination); ok {
			return hash, true
		}
	}
	return "", false
}

func isPayoutMessage(message tonapi.Message, raffleID uint32, sequence uint64, destination ton.AccountID) bool {
	opCode, ok := message.GetOpCode().Get()
	if !ok || opCode != payoutOpcodeHex {
		return false
	}

	messageDestination, ok := message.Destination.Get()
	if !ok {
		return false
	}
	accountID, err := ton.ParseAccountID(messageDestination.Address)
	if err != nil || accountID != destination {
		return false
	}

	rawBody, ok := message.GetRawBody().Get()
	if !ok {
		return false
	}
	cells, err := boc.DeserializeBocHex(rawBody)
	if err != nil || len(cells) == 0 {
		logger.Debug("blockchain: payout message body cannot be deserialized")
		return false
	}

	body := cells[0]
	if err := body.Skip(32); err != nil {
		return false
	}
	bodyRaffleID, err := body.ReadUint(32)
	if err != nil || bodyRaffleID != uint64(raffleID) {
		return false
	}
	if err := body.Skip(8); err != nil {
		return false
	}
	bodySequence, err := body.ReadUint(64)
	return err == nil && bodySequence == sequence
}

// rateLimitRetry repeats fn while tonapi answers 429.
func rateLimitRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	for {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		var statusErr *tonapi.ErrorStatusCode
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(rateLimitBackoff):
		}
	}
}
