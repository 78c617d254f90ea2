package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"raffle/internal/logger"
	"raffle/internal/storage"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
	"go.uber.org/zap"
)

const PayoutOpcode = 0x52414646

const confirmationTimeout = 60 * time.Second

var WalletMap = map[string]wallet.Version{
	"V1R1":         wallet.V1R1,
	"V1R2":         wallet.V1R2,
	"V1R3":         wallet.V1R3,
	"V2R1":         wallet.V2R1,
	"V2R2":         wallet.V2R2,
	"V3R1":         wallet.V3R1,
	"V3R2":         wallet.V3R2,
	"V4R1":         wallet.V4R1,
	"V4R2":         wallet.V4R2,
	"V5Beta":       wallet.V5Beta,
	"V5R1":         wallet.V5R1,
	"HighLoadV1R1": wallet.HighLoadV1R1,
	"HighLoadV1R2": wallet.HighLoadV1R2,
	"HighLoadV2":   wallet.HighLoadV2,
	"HighLoadV2R1": wallet.HighLoadV2R1,
	"HighLoadV2R2": wallet.HighLoadV2R2,
}

var reasonCodes = map[storage.PayoutReason]uint64{
	storage.FeePayoutReason:       1,
	storage.OrganizerPayoutReason: 2,
	storage.PrizePayoutReason:     3,
}

// PayoutMessage is the internal message carrying one payout. Sequence is the
// outbox position and makes every body unique on chain.
type PayoutMessage struct {
	Amount      tlb.Grams
	Destination ton.AccountID
	RaffleID    uint32
	Reason      storage.PayoutReason
	Sequence    uint64
}

type messageSender interface {
	SendV2(ctx context.Context, waitingConfirmation time.Duration, messages ...wallet.Sendable) (ton.Bits256, error)
}

// WalletSender sends payouts from the platform wallet.
type WalletSender struct {
	wallet  messageSender
	address ton.AccountID
}

func ParseWalletVersion(version string) (wallet.Version, error) {
	walletVersion, ok := WalletMap[version]
	if !ok {
		return 0, fmt.Errorf("unknown wallet version %q", version)
	}
	return walletVersion, nil
}

func NewWalletSender(mnemonic string, version string) (*WalletSender, error) {
	logger.Debug("blockchain: initializing wallet...", zap.String("wallet version", version), zap.Bool("wallet mnemonic", mnemonic != ""))

	if mnemonic == "" {
		return nil, errors.New("wallet mnemonic is empty")
	}
	walletVersion, err := ParseWalletVersion(version)
	if err != nil {
		return nil, err
	}

	pk, err := wallet.SeedToPrivateKey(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("wallet private key: %w", err)
	}

	clientLite, err := liteapi.NewClientWithDefaultMainnet()
	if err != nil {
		return nil, fmt.Errorf("lite client: %w", err)
	}

	platformWallet, err := wallet.New(pk, walletVersion, clientLite)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}

	logger.Debug("blockchain: initializing wallet... done", zap.String("address", platformWallet.GetAddress().ToRaw()))
	return &WalletSender{wallet: &platformWallet, address: platformWallet.GetAddress()}, nil
}

func BuildPayoutMessage(payout *storage.Payout) (PayoutMessage, error) {
	destination, err := ton.ParseAccountID(payout.Destination)
	if err != nil {
		return PayoutMessage{}, fmt.Errorf("payout %s: parse destination: %w", payout.ID, err)
	}
	return PayoutMessage{
		Amount:      tlb.Grams(payout.Amount),
		Destination: destination,
		RaffleID:    payout.RaffleID,
		Reason:      payout.Reason,
		Sequence:    payout.Sequence,
	}, nil
}

// Body encodes op, raffle id, reason code and sequence.
func (m PayoutMessage) Body() (*boc.Cell, error) {
	code, ok := reasonCodes[m.Reason]
	if !ok {
		return nil, fmt.Errorf("unknown payout reason %q", m.Reason)
	}

	cell := boc.NewCell()
	if err := cell.WriteUint(PayoutOpcode, 32); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(uint64(m.RaffleID), 32); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(code, 8); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(m.Sequence, 64); err != nil {
		return nil, err
	}
	return cell, nil
}

// Address is the platform wallet the payouts are sent from.
func (s *WalletSender) Address() ton.AccountID {
	return s.address
}

// Send transfers the payout and returns the hash of the wallet message.
func (s *WalletSender) Send(ctx context.Context, payout *storage.Payout) (string, error) {
	logger.Debug("blockchain: sending payout...", zap.String("payout id", payout.ID), zap.String("destination", payout.Destination), zap.Uint64("amount", payout.Amount))

	payoutMessage, err := BuildPayoutMessage(payout)
	if err != nil {
		return "", err
	}
	body, err := payoutMessage.Body()
	if err != nil {
		return "", err
	}

	message := wallet.Message{
		Amount:  payoutMessage.Amount,
		Address: payoutMessage.Destination,
		Bounce:  false,
		Mode:    wallet.DefaultMessageMode,
		Body:    body,
	}

	hash, err := s.wallet.SendV2(ctx, confirmationTimeout, message)
	if err != nil {
		return "", fmt.Errorf("send payout %s: %w", payout.ID, err)
	}

	logger.Debug("blockchain: sending payout... done", zap.String("hash", hash.Hex()))
	return hash.Hex(), nil
}
