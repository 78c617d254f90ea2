package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"raffle/internal/logger"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const payoutSequenceCounter = "payout_sequence"

type SqliteStorage struct {
	db *gorm.DB
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {

	logger.Debug("storage: initializing database...", zap.String("path", path))
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// sqlite allows a single writer; one connection also keeps ":memory:" databases shared
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&Raffle{},
		&Participant{},
		&Counter{},
		&Balance{},
		&Payout{},
		&Event{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate sqlite database: %w", err)
	}

	logger.Debug("storage: initializing database... done")
	return &SqliteStorage{
		db: db,
	}, nil
}

func (s *SqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SqliteStorage) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&sqliteTx{sqliteReader{db: db}})
	})
}

func (s *SqliteStorage) GetRaffle(ctx context.Context, raffleID uint32) (*Raffle, error) {
	return s.reader().GetRaffle(ctx, raffleID)
}

func (s *SqliteStorage) GetRaffles(ctx context.Context, filter RaffleFilter) ([]*Raffle, error) {
	return s.reader().GetRaffles(ctx, filter)
}

func (s *SqliteStorage) GetParticipants(ctx context.Context, raffleID uint32) ([]string, error) {
	return s.reader().GetParticipants(ctx, raffleID)
}

func (s *SqliteStorage) GetBalance(ctx context.Context, address string) (uint64, error) {
	return s.reader().GetBalance(ctx, address)
}

func (s *SqliteStorage) GetEvents(ctx context.Context, raffleID uint32) ([]*Event, error) {
	return s.reader().GetEvents(ctx, raffleID)
}

func (s *SqliteStorage) GetPayouts(ctx context.Context, raffleID uint32) ([]*Payout, error) {
	return s.reader().GetPayouts(ctx, raffleID)
}

func (s *SqliteStorage) GetPendingPayouts(ctx context.Context, limit int) ([]*Payout, error) {
	logger.Debug("storage: getting pending payouts...", zap.Int("limit", limit))

	query := s.db.WithContext(ctx).
		Where("status = ?", PendingPayoutStatus).
		Order("sequence")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var payouts = make([]*Payout, 0)
	if err := query.Find(&payouts).Error; err != nil {
		return nil, err
	}

	logger.Debug("storage: getting pending payouts... done", zap.Int("count", len(payouts)))
	return payouts, nil
}

func (s *SqliteStorage) GetSendingPayouts(ctx context.Context) ([]*Payout, error) {

	var payouts = make([]*Payout, 0)
	err := s.db.WithContext(ctx).Where("status = ?", SendingPayoutStatus).Order("sequence").Find(&payouts).Error
	if err != nil {
		return nil, err
	}

	return payouts, nil
}

func (s *SqliteStorage) MarkPayoutSending(ctx context.Context, payoutID string) error {
	logger.Debug("storage: marking payout sending...", zap.String("payout id", payoutID))

	attemptedAt := time.Now().UTC()
	err := s.transitionPayout(ctx, payoutID, []PayoutStatus{PendingPayoutStatus}, map[string]any{
		"status":       SendingPayoutStatus,
		"attempted_at": &attemptedAt,
	})
	if err != nil {
		return err
	}

	logger.Debug("storage: marking payout sending... done")
	return nil
}

func (s *SqliteStorage) ReleasePayout(ctx context.Context, payoutID string) error {
	logger.Debug("storage: releasing payout...", zap.String("payout id", payoutID))

	err := s.transitionPayout(ctx, payoutID, []PayoutStatus{SendingPayoutStatus}, map[string]any{
		"status": PendingPayoutStatus,
	})
	if err != nil {
		return err
	}

	logger.Debug("storage: releasing payout... done")
	return nil
}

func (s *SqliteStorage) MarkPayoutSettled(ctx context.Context, payoutID string, transactionHash string) error {
	logger.Debug("storage: marking payout settled...", zap.String("payout id", payoutID))

	settledAt := time.Now().UTC()
	err := s.transitionPayout(ctx, payoutID, []PayoutStatus{PendingPayoutStatus, SendingPayoutStatus}, map[string]any{
		"status":           SettledPayoutStatus,
		"transaction_hash": transactionHash,
		"settled_at":       &settledAt,
	})
	if err != nil {
		return err
	}

	logger.Debug("storage: marking payout settled... done")
	return nil
}

func (s *SqliteStorage) transitionPayout(ctx context.Context, payoutID string, from []PayoutStatus, updates map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&Payout{}).
		Where("id = ? and status in ?", payoutID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Payout{}).Where("id = ?", payoutID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *SqliteStorage) reader() sqliteReader {
	return sqliteReader{db: s.db}
}

type sqliteReader struct {
	db *gorm.DB
}

func (r sqliteReader) GetRaffle(ctx context.Context, raffleID uint32) (*Raffle, error) {

	var raffle Raffle
	err := r.db.WithContext(ctx).Where("id = ?", raffleID).First(&raffle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &raffle, nil
}

func (r sqliteReader) GetRaffles(ctx context.Context, filter RaffleFilter) ([]*Raffle, error) {

	query := r.db.WithContext(ctx).Order("id")
	if filter.Organizer != "" {
		query = query.Where("organizer = ?", filter.Organizer)
	}
	switch filter.Status {
	case OpenRaffleStatus:
		query = query.Where("is_closed = ?", false)
	case ClosedRaffleStatus:
		query = query.Where("is_closed = ?", true)
	}

	var raffles = make([]*Raffle, 0)
	if err := query.Find(&raffles).Error; err != nil {
		return nil, err
	}

	return raffles, nil
}

func (r sqliteReader) GetParticipants(ctx context.Context, raffleID uint32) ([]string, error) {

	var addresses = make([]string, 0)
	err := r.db.WithContext(ctx).
		Model(&Participant{}).
		Where("raffle_id = ?", raffleID).
		Order("position").
		Pluck("address", &addresses).Error
	if err != nil {
		return nil, err
	}

	return addresses, nil
}

func (r sqliteReader) GetBalance(ctx context.Context, address string) (uint64, error) {

	var balance Balance
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return balance.Amount, nil
}

func (r sqliteReader) GetEvents(ctx context.Context, raffleID uint32) ([]*Event, error) {

	var events = make([]*Event, 0)
	err := r.db.WithContext(ctx).Where("raffle_id = ?", raffleID).Order("sequence").Find(&events).Error
	if err != nil {
		return nil, err
	}

	return events, nil
}

func (r sqliteReader) GetPayouts(ctx context.Context, raffleID uint32) ([]*Payout, error) {

	var payouts = make([]*Payout, 0)
	err := r.db.WithContext(ctx).Where("raffle_id = ?", raffleID).Order("sequence").Find(&payouts).Error
	if err != nil {
		return nil, err
	}

	return payouts, nil
}

type sqliteTx struct {
	sqliteReader
}

func (t *sqliteTx) AllocateRaffleID(ctx context.Context) (uint32, error) {
	next, err := t.nextCounterValue(ctx, nextRaffleIDCounter)
	if err != nil {
		return 0, fmt.Errorf("allocate raffle id: %w", err)
	}
	return next, nil
}

func (t *sqliteTx) UpdateRaffle(ctx context.Context, raffle *Raffle) error {
	logger.Debug("storage: updating raffle...", zap.Uint32("raffle id", raffle.ID))

	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tickets_sold",
			"winner",
			"is_closed",
			"total_stake",
		}),
	}).Create(raffle).Error
	if err != nil {
		return err
	}

	logger.Debug("storage: updating raffle... done")
	return nil
}

func (t *sqliteTx) AppendParticipant(ctx context.Context, raffleID uint32, address string) error {

	var count int64
	err := t.db.WithContext(ctx).Model(&Participant{}).Where("raffle_id = ?", raffleID).Count(&count).Error
	if err != nil {
		return err
	}

	var existing int64
	err = t.db.WithContext(ctx).Model(&Participant{}).Where("raffle_id = ? and address = ?", raffleID, address).Count(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		return ErrConflict
	}

	return t.db.WithContext(ctx).Create(&Participant{
		RaffleID: raffleID,
		Position: uint32(count),
		Address:  address,
	}).Error
}

func (t *sqliteTx) Deposit(ctx context.Context, address string, amount uint64) error {
	balance, err := t.GetBalance(ctx, address)
	if err != nil {
		return err
	}
	if balance+amount < balance {
		return fmt.Errorf("deposit to %s overflows: %w", address, ErrConflict)
	}
	return t.setBalance(ctx, address, balance+amount)
}

func (t *sqliteTx) Transfer(ctx context.Context, payout *Payout) error {
	logger.Debug("storage: transferring...", zap.String("source", payout.Source), zap.String("destination", payout.Destination), zap.Uint64("amount", payout.Amount))

	sourceBalance, err := t.GetBalance(ctx, payout.Source)
	if err != nil {
		return err
	}
	if sourceBalance < payout.Amount {
		return ErrInsufficientFunds
	}
	if err := t.setBalance(ctx, payout.Source, sourceBalance-payout.Amount); err != nil {
		return err
	}
	if err := t.Deposit(ctx, payout.Destination, payout.Amount); err != nil {
		return err
	}

	sequence, err := t.nextCounterValue(ctx, payoutSequenceCounter)
	if err != nil {
		return err
	}

	preparePayout(payout)
	payout.Sequence = uint64(sequence)
	if err := t.db.WithContext(ctx).Create(payout).Error; err != nil {
		return err
	}

	logger.Debug("storage: transferring... done", zap.String("payout id", payout.ID))
	return nil
}

func (t *sqliteTx) AppendEvent(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return t.db.WithContext(ctx).Create(event).Error
}

func (t *sqliteTx) setBalance(ctx context.Context, address string, amount uint64) error {
	return t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount"}),
	}).Create(&Balance{Address: address, Amount: amount}).Error
}

// nextCounterValue returns the current value of a counter (starting at 1) and advances it.
func (t *sqliteTx) nextCounterValue(ctx context.Context, name string) (uint32, error) {

	var counter Counter
	err := t.db.WithContext(ctx).Where("name = ?", name).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = Counter{Name: name, Value: 1}
	} else if err != nil {
		return 0, err
	}

	if counter.Value == 0 {
		return 0, fmt.Errorf("counter %s exhausted: %w", name, ErrConflict)
	}

	next := counter.Value
	counter.Value++

	err = t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&counter).Error
	if err != nil {
		return 0, err
	}

	return next, nil
}
