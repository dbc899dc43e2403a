package gauge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
)

var seriesKeyPrefix = []byte("series/")

// persistedSample is the on-disk form of a Sample inside a series blob.
type persistedSample struct {
	T    int64             `json:"t"`
	V    float64           `json:"v"`
	Tags map[string]string `json:"tags,omitempty"`
}

// BadgerPersister stores one zstd-compressed blob per metric in BadgerDB.
type BadgerPersister struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBadgerPersister opens (or creates) a Badger database in dir.
func NewBadgerPersister(dir string) (*BadgerPersister, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return openBadgerPersister(opts)
}

func openBadgerPersister(opts badger.Options) (*BadgerPersister, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &BadgerPersister{db: db, encoder: encoder, decoder: decoder}, nil
}

func seriesKey(metric string) []byte {
	return append(append([]byte{}, seriesKeyPrefix...), metric...)
}

// Save writes the snapshot through a write batch and then deletes series
// that are no longer in it. An interrupted save leaves the previous
// snapshot readable, possibly with some series already replaced.
func (p *BadgerPersister) Save(ctx context.Context, snapshot map[string][]Sample) error {
	stale, err := p.storedSeries()
	if err != nil {
		return err
	}

	wb := p.db.NewWriteBatch()
	defer wb.Cancel()

	for name, samples := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		delete(stale, name)
		rows := make([]persistedSample, len(samples))
		for i, s := range samples {
			rows[i] = persistedSample{T: s.Timestamp.UnixNano(), V: s.Value, Tags: s.Tags}
		}
		raw, err := json.Marshal(rows)
		if err != nil {
			return fmt.Errorf("encode series %s: %w", name, err)
		}
		if err := wb.Set(seriesKey(name), p.encoder.EncodeAll(raw, nil)); err != nil {
			return fmt.Errorf("write series %s: %w", name, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush series: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}
	del := p.db.NewWriteBatch()
	defer del.Cancel()
	for name := range stale {
		if err := del.Delete(seriesKey(name)); err != nil {
			return fmt.Errorf("delete series %s: %w", name, err)
		}
	}
	return del.Flush()
}

// storedSeries lists the metric names currently on disk.
func (p *BadgerPersister) storedSeries() (map[string]struct{}, error) {
	names := make(map[string]struct{})
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = seriesKeyPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names[string(it.Item().Key()[len(seriesKeyPrefix):])] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	return names, nil
}

// Load decodes every stored series.
func (p *BadgerPersister) Load(ctx context.Context) ([]Sample, error) {
	var samples []Sample
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = seriesKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			metric := string(item.Key()[len(seriesKeyPrefix):])

			compressed, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			raw, err := p.decoder.DecodeAll(compressed, nil)
			if err != nil {
				return fmt.Errorf("decompress series %s: %w", metric, err)
			}
			var rows []persistedSample
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("decode series %s: %w", metric, err)
			}
			for _, r := range rows {
				samples = append(samples, Sample{
					Metric:    metric,
					Timestamp: time.Unix(0, r.T),
					Value:     r.V,
					Tags:      r.Tags,
				})
			}
		}
		return nil
	})
	return samples, err
}

// Ping reports whether the database is still open.
func (p *BadgerPersister) Ping(ctx context.Context) error {
	if p.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close flushes and closes the database.
func (p *BadgerPersister) Close() error {
	p.encoder.Close()
	p.decoder.Close()
	return p.db.Close()
}

var _ Persister = (*BadgerPersister)(nil)
