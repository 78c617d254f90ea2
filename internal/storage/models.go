package storage

import "time"

type Raffle struct {
	ID           uint32 `gorm:"primaryKey;autoIncrement:false"`
	Organizer    string `gorm:"not null;index"`
	MaxTickets   uint32 `gorm:"not null"`
	TicketPrice  uint64 `gorm:"type:integer;not null;serializer:amount"`
	FeePercent   uint8  `gorm:"not null"`
	StakePercent uint8  `gorm:"not null"`
	TicketsSold  uint32 `gorm:"default:0"`
	Winner       string `gorm:"default:''"`
	IsClosed     bool   `gorm:"default:false;index"`
	TotalStake   uint64 `gorm:"type:integer;default:0;serializer:amount"`
}

type Participant struct {
	RaffleID uint32 `gorm:"primaryKey;autoIncrement:false;uniqueIndex:idx_raffle_participant_address"`
	Position uint32 `gorm:"primaryKey;autoIncrement:false"`
	Address  string `gorm:"not null;uniqueIndex:idx_raffle_participant_address"`
}

type Counter struct {
	Name  string `gorm:"primaryKey"`
	Value uint32 `gorm:"not null"`
}

type Balance struct {
	Address string `gorm:"primaryKey"`
	Amount  uint64 `gorm:"type:integer;not null;serializer:amount"`
}

type Payout struct {
	ID              string       `gorm:"primaryKey"`
	Sequence        uint64       `gorm:"not null;index"`
	RaffleID        uint32       `gorm:"not null;index"`
	Source          string       `gorm:"not null"`
	Destination     string       `gorm:"not null"`
	Amount          uint64       `gorm:"type:integer;not null;serializer:amount"`
	Reason          PayoutReason `gorm:"not null"`
	Status          PayoutStatus `gorm:"not null;index"`
	TransactionHash string       `gorm:"default:''"`
	CreatedAt       time.Time
	AttemptedAt     *time.Time
	SettledAt       *time.Time
}

type Event struct {
	Sequence    uint64    `gorm:"primaryKey;autoIncrement"`
	RaffleID    uint32    `gorm:"not null;index"`
	Kind        EventKind `gorm:"not null"`
	Account     string    `gorm:"not null"`
	TicketsSold uint32    `gorm:"default:0"`
	MaxTickets  uint32    `gorm:"default:0"`
	TicketPrice uint64    `gorm:"type:integer;default:0;serializer:amount"`
	CreatedAt   time.Time
}
