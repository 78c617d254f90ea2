package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"raffle/internal/logger"

	"github.com/joho/godotenv"
	"github.com/tonkeeper/tongo/ton"
)

const (
	BeaconEntropy = "beacon"
	ClockEntropy  = "clock"
)

type Config struct {
	HTTPAddr     string
	DatabasePath string

	Log logger.Configuration

	PlatformAuthority  ton.AccountID
	PlatformFeeAccount ton.AccountID
	RaffleAddress      ton.AccountID

	EntropySource   string
	BeaconPublicKey string
	BeaconWait      time.Duration

	// empty mnemonic disables on-chain settlement
	WalletMnemonic string
	WalletVersion  string
	TonapiToken    string

	SettlementInterval       time.Duration
	SettlementBatch          int
	SettlementInFlightExpiry time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var err error
	config := Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		DatabasePath: getEnv("DATABASE_PATH", "persistent.db"),
		Log: logger.Configuration{
			LogFile:   os.Getenv("LOG_FILE"),
			ErrorFile: os.Getenv("LOG_ERROR_FILE"),
			Level:     getEnv("LOG_LEVEL", "info"),
		},
		EntropySource:   getEnv("ENTROPY_SOURCE", BeaconEntropy),
		BeaconPublicKey: os.Getenv("BEACON_PUBLIC_KEY"),
		WalletMnemonic:  os.Getenv("WALLET_MNEMONIC"),
		WalletVersion:   getEnv("WALLET_VERSION", "V4R2"),
		TonapiToken:     os.Getenv("TONAPI_TOKEN"),
	}

	if config.Log.Console, err = strconv.ParseBool(getEnv("LOG_CONSOLE", "true")); err != nil {
		return Config{}, fmt.Errorf("LOG_CONSOLE: %w", err)
	}

	if config.PlatformAuthority, err = requireAccount("PLATFORM_AUTHORITY"); err != nil {
		return Config{}, err
	}
	if config.PlatformFeeAccount, err = requireAccount("PLATFORM_FEE_ACCOUNT"); err != nil {
		return Config{}, err
	}
	if config.RaffleAddress, err = requireAccount("RAFFLE_ADDRESS"); err != nil {
		return Config{}, err
	}

	switch config.EntropySource {
	case BeaconEntropy:
		if config.BeaconPublicKey == "" {
			return Config{}, errors.New("BEACON_PUBLIC_KEY is required for beacon entropy")
		}
	case ClockEntropy:
	default:
		return Config{}, fmt.Errorf("ENTROPY_SOURCE: unknown source %q", config.EntropySource)
	}

	if config.BeaconWait, err = time.ParseDuration(getEnv("BEACON_WAIT", "1m")); err != nil {
		return Config{}, fmt.Errorf("BEACON_WAIT: %w", err)
	}
	if config.BeaconWait <= 0 {
		return Config{}, errors.New("BEACON_WAIT must be positive")
	}

	// in flight payouts are looked up on chain before anything is resent
	if config.WalletMnemonic != "" && config.TonapiToken == "" {
		return Config{}, errors.New("TONAPI_TOKEN is required when WALLET_MNEMONIC is set")
	}

	if config.SettlementInterval, err = time.ParseDuration(getEnv("SETTLEMENT_INTERVAL", "30s")); err != nil {
		return Config{}, fmt.Errorf("SETTLEMENT_INTERVAL: %w", err)
	}
	if config.SettlementInterval <= 0 {
		return Config{}, errors.New("SETTLEMENT_INTERVAL must be positive")
	}

	if config.SettlementBatch, err = strconv.Atoi(getEnv("SETTLEMENT_BATCH", "50")); err != nil {
		return Config{}, fmt.Errorf("SETTLEMENT_BATCH: %w", err)
	}
	if config.SettlementBatch <= 0 {
		return Config{}, errors.New("SETTLEMENT_BATCH must be positive")
	}

	if config.SettlementInFlightExpiry, err = time.ParseDuration(getEnv("SETTLEMENT_IN_FLIGHT_EXPIRY", "5m")); err != nil {
		return Config{}, fmt.Errorf("SETTLEMENT_IN_FLIGHT_EXPIRY: %w", err)
	}
	if config.SettlementInFlightExpiry < 0 {
		return Config{}, errors.New("SETTLEMENT_IN_FLIGHT_EXPIRY must not be negative")
	}

	return config, nil
}

func getEnv(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func requireAccount(key string) (ton.AccountID, error) {
	value := os.Getenv(key)
	if value == "" {
		return ton.AccountID{}, fmt.Errorf("%s is required", key)
	}
	account, err := ton.ParseAccountID(value)
	if err != nil {
		return ton.AccountID{}, fmt.Errorf("%s: %w", key, err)
	}
	return account, nil
}
