package gauge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const saveBatchSize = 500

// Persister saves and restores store snapshots.
type Persister interface {
	// Save replaces the persisted state with snapshot.
	Save(ctx context.Context, snapshot map[string][]Sample) error
	// Load returns every persisted sample.
	Load(ctx context.Context) ([]Sample, error)
	Ping(ctx context.Context) error
	Close() error
}

// Persistence drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// NewPersister opens the persister selected by cfg.Driver.
func NewPersister(cfg PersistenceConfig) (Persister, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLitePersister(cfg.DSN)
	case DriverBadger:
		return NewBadgerPersister(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}

// sampleRecord is the persisted form of a Sample.
type sampleRecord struct {
	ID          uint    `gorm:"primaryKey"`
	Metric      string  `gorm:"size:255;index:idx_metric_ts,priority:1;not null"`
	TimestampNs int64   `gorm:"index:idx_metric_ts,priority:2;not null"`
	Value       float64 `gorm:"not null"`
	Tags        string
}

func (sampleRecord) TableName() string {
	return "gauge_samples"
}

// SQLitePersister writes store snapshots to a SQLite database and reads
// them back on startup.
type SQLitePersister struct {
	db *gorm.DB
}

// NewSQLitePersister opens (or creates) the database at dsn and migrates
// the schema.
func NewSQLitePersister(dsn string) (*SQLitePersister, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&sampleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite %s: %w", dsn, err)
	}
	return &SQLitePersister{db: db}, nil
}

var _ Persister = (*SQLitePersister)(nil)

// Save replaces the stored samples with snapshot in one transaction.
func (p *SQLitePersister) Save(ctx context.Context, snapshot map[string][]Sample) error {
	records := make([]sampleRecord, 0, len(snapshot))
	for name, samples := range snapshot {
		for _, s := range samples {
			rec := sampleRecord{
				Metric:      name,
				TimestampNs: s.Timestamp.UnixNano(),
				Value:       s.Value,
			}
			if len(s.Tags) > 0 {
				tags, err := json.Marshal(s.Tags)
				if err != nil {
					return fmt.Errorf("encode tags for %s: %w", name, err)
				}
				rec.Tags = string(tags)
			}
			records = append(records, rec)
		}
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&sampleRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, saveBatchSize).Error
	})
}

// Load returns every persisted sample ordered by metric then time.
func (p *SQLitePersister) Load(ctx context.Context) ([]Sample, error) {
	var records []sampleRecord
	if err := p.db.WithContext(ctx).Order("metric, timestamp_ns, id").Find(&records).Error; err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(records))
	for _, rec := range records {
		s := Sample{
			Metric:    rec.Metric,
			Timestamp: time.Unix(0, rec.TimestampNs),
			Value:     rec.Value,
		}
		if rec.Tags != "" {
			if err := json.Unmarshal([]byte(rec.Tags), &s.Tags); err != nil {
				return nil, fmt.Errorf("decode tags of sample %d: %w", rec.ID, err)
			}
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// Count returns the number of persisted samples.
func (p *SQLitePersister) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&sampleRecord{}).Count(&n).Error
	return n, err
}

// Ping checks the database connection.
func (p *SQLitePersister) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (p *SQLitePersister) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
