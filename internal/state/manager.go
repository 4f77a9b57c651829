package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/evanofslack/ec2-dns-sync/internal/metrics"
)

const eventPrefix = "event:"

// Manager keeps an append-only history of address changes. It is write-only
// from the point of view of a sync run.
type Manager interface {
	Record(ctx context.Context, event Event) error
	Events(ctx context.Context, fqdn string) ([]Event, error)
	Close() error
}

type badgerManager struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

func New(path string, metrics *metrics.Metrics) (Manager, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	m := &badgerManager{db: db, metrics: metrics}
	return m, nil
}

func eventKey(fqdn string, t time.Time) []byte {
	// zero padded so keys sort chronologically
	return []byte(fmt.Sprintf("%s%s:%020d", eventPrefix, fqdn, t.UnixNano()))
}

func (m *badgerManager) Record(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		m.metrics.IncBadgerRequest("write", false)
		return fmt.Errorf("marshal event: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(event.FQDN, event.Time), data)
	})
	m.metrics.IncBadgerRequest("write", err == nil)
	if err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	return nil
}

// Events returns the recorded changes for fqdn, oldest first.
func (m *badgerManager) Events(ctx context.Context, fqdn string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []Event

	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventPrefix + fqdn + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var event Event
				if err := json.Unmarshal(val, &event); err != nil {
					return err
				}
				events = append(events, event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	m.metrics.IncBadgerRequest("read", err == nil)
	return events, err
}

func (m *badgerManager) Close() error {
	return m.db.Close()
}
