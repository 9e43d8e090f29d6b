package storage

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LedgerEvent is one event observed on the node's stream, stored verbatim
// with the attributes the indexer aggregates over lifted into columns.
type LedgerEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"size:64;index"`
	FarmID     string    `gorm:"size:64;index"`
	Actor      string    `gorm:"size:64;index"`
	Amount     string    `gorm:"size:64"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// FarmTotals aggregates activity for one farm across the stored events.
type FarmTotals struct {
	FarmID     string `json:"farmId"`
	Deposited  string `json:"deposited"`
	Withdrawn  string `json:"withdrawn"`
	Harvested  string `json:"harvested"`
	FundsAdded string `json:"fundsAdded"`
	Drained    string `json:"drained"`
	Events     int64  `json:"events"`
}

// Store wraps the indexer database.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&LedgerEvent{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&LedgerEvent{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveEvent persists one streamed event. The farm id, acting address and
// amount are lifted out of the attribute map so queries do not need to parse
// JSON.
func (s *Store) SaveEvent(eventType string, attributes map[string]string) (*LedgerEvent, error) {
	if strings.TrimSpace(eventType) == "" {
		return nil, fmt.Errorf("storage: event type required")
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return nil, fmt.Errorf("storage: encode attributes: %w", err)
	}
	record := &LedgerEvent{
		ID:         uuid.New(),
		Type:       eventType,
		FarmID:     attributes["farmId"],
		Actor:      actorOf(eventType, attributes),
		Amount:     amountOf(eventType, attributes),
		Attributes: string(encoded),
	}
	if err := s.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("storage: save event: %w", err)
	}
	return record, nil
}

// ListEventsByFarm returns the newest events for a farm, up to limit.
func (s *Store) ListEventsByFarm(farmID string, limit int) ([]LedgerEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var events []LedgerEvent
	err := s.db.
		Where("farm_id = ?", strings.ToLower(strings.TrimSpace(farmID))).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	return events, nil
}

// TotalsByFarm sums the stored amounts per event type for one farm. Sums run
// over big integers in Go because the amounts exceed SQLite integer range.
func (s *Store) TotalsByFarm(farmID string) (*FarmTotals, error) {
	normalized := strings.ToLower(strings.TrimSpace(farmID))
	var events []LedgerEvent
	if err := s.db.Where("farm_id = ?", normalized).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("storage: load events: %w", err)
	}

	deposited := new(big.Int)
	withdrawn := new(big.Int)
	harvested := new(big.Int)
	added := new(big.Int)
	drained := new(big.Int)
	for _, evt := range events {
		amount, ok := new(big.Int).SetString(evt.Amount, 10)
		if !ok {
			continue
		}
		switch evt.Type {
		case "farming.deposited":
			deposited.Add(deposited, amount)
		case "farming.withdrawn":
			withdrawn.Add(withdrawn, amount)
		case "farming.harvested":
			harvested.Add(harvested, amount)
		case "farming.rewards.added":
			added.Add(added, amount)
		case "farming.drained":
			drained.Add(drained, amount)
		}
	}
	return &FarmTotals{
		FarmID:     normalized,
		Deposited:  deposited.String(),
		Withdrawn:  withdrawn.String(),
		Harvested:  harvested.String(),
		FundsAdded: added.String(),
		Drained:    drained.String(),
		Events:     int64(len(events)),
	}, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents() (int64, error) {
	var count int64
	if err := s.db.Model(&LedgerEvent{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("storage: count events: %w", err)
	}
	return count, nil
}

// PruneBefore deletes events recorded before the cutoff and reports how many
// rows were removed. Exposed through the admin API.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&LedgerEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("storage: prune events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func actorOf(eventType string, attrs map[string]string) string {
	switch eventType {
	case "farming.farm.created":
		return attrs["owner"]
	case "farming.deposited", "farming.withdrawn", "farming.harvested":
		return attrs["staker"]
	case "farming.rewards.added":
		return attrs["funder"]
	case "farming.fee.paid":
		return attrs["payer"]
	case "farming.drained":
		return attrs["recipient"]
	default:
		return ""
	}
}

func amountOf(eventType string, attrs map[string]string) string {
	switch eventType {
	case "farming.harvested":
		return attrs["gross"]
	case "farming.migrated":
		return attrs["budget"]
	default:
		return attrs["amount"]
	}
}
