package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/play-tracker/internal/tally"
)

type roomRecord struct {
	ID          string         `gorm:"primaryKey;size:8"`
	Snapshot    datatypes.JSON `gorm:"not null"`
	LastUpdated int64          `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (roomRecord) TableName() string { return "rooms" }

func newRecord(id string, s tally.Snapshot) (roomRecord, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return roomRecord{}, fmt.Errorf("encode snapshot: %w", err)
	}
	return roomRecord{ID: id, Snapshot: datatypes.JSON(data), LastUpdated: s.LastUpdated}, nil
}

func (r roomRecord) snapshot() (tally.Snapshot, error) {
	s, err := tally.Decode(r.Snapshot)
	if err != nil {
		return tally.Snapshot{}, fmt.Errorf("decode room %s: %w", r.ID, err)
	}
	s.LastUpdated = r.LastUpdated
	return s, nil
}

// PostgresStore keeps one row per room. Survives restarts, which the
// in-memory Hub does not.
type PostgresStore struct {
	db    *gorm.DB
	clock clockwork.Clock
	newID func() string
}

// OpenPostgres connects with dsn and migrates the rooms table.
func OpenPostgres(dsn string, clock clockwork.Clock) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(conn, clock)
}

func NewPostgresStore(conn *gorm.DB, clock clockwork.Clock) (*PostgresStore, error) {
	if conn == nil {
		return nil, errors.New("db connection is nil")
	}
	if err := conn.AutoMigrate(&roomRecord{}); err != nil {
		return nil, fmt.Errorf("migrate rooms: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PostgresStore{db: conn, clock: clock, newID: NewRoomID}, nil
}

func (p *PostgresStore) Create(ctx context.Context) (string, tally.Snapshot, error) {
	for range maxIDAttempts {
		id := p.newID()
		s := tally.NewDefault(p.clock.Now())
		rec, err := newRecord(id, s)
		if err != nil {
			return "", tally.Snapshot{}, err
		}
		res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return "", tally.Snapshot{}, fmt.Errorf("insert room: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return id, s, nil
		}
	}
	return "", tally.Snapshot{}, ErrIDExhausted
}

func (p *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := p.db.WithContext(ctx).Model(&roomRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count room: %w", err)
	}
	return count > 0, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (tally.Snapshot, error) {
	rec, err := p.ensure(ctx, id)
	if err != nil {
		return tally.Snapshot{}, err
	}
	return rec.snapshot()
}

func (p *PostgresStore) Put(ctx context.Context, id string, s tally.Snapshot) (tally.Snapshot, error) {
	var saved tally.Snapshot
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev roomRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&prev).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lock room: %w", err)
		}

		next := tally.Normalize(s)
		next.LastUpdated = nextStamp(p.clock.Now().UnixMilli(), prev.LastUpdated)
		rec, err := newRecord(id, next)
		if err != nil {
			return err
		}
		upsert := clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"snapshot", "last_updated", "updated_at"}),
		}
		if err := tx.Clauses(upsert).Create(&rec).Error; err != nil {
			return fmt.Errorf("save room: %w", err)
		}
		saved = next
		return nil
	})
	if err != nil {
		return tally.Snapshot{}, err
	}
	return saved, nil
}

func (p *PostgresStore) Sync(ctx context.Context, id string, watermark int64) (SyncResult, error) {
	rec, err := p.ensure(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	if rec.LastUpdated <= watermark {
		return SyncResult{}, nil
	}
	s, err := rec.snapshot()
	if err != nil {
		return SyncResult{}, err
	}
	return syncResult(s, watermark), nil
}

func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ensure inserts a default row for an unknown id and returns the stored row.
func (p *PostgresStore) ensure(ctx context.Context, id string) (roomRecord, error) {
	db := p.db.WithContext(ctx)
	def, err := newRecord(id, tally.NewDefault(p.clock.Now()))
	if err != nil {
		return roomRecord{}, err
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&def).Error; err != nil {
		return roomRecord{}, fmt.Errorf("insert default room: %w", err)
	}
	var rec roomRecord
	if err := db.Where("id = ?", id).Take(&rec).Error; err != nil {
		return roomRecord{}, fmt.Errorf("load room: %w", err)
	}
	return rec, nil
}
