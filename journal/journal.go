// Package journal keeps the history of pin changes in a badger database.
package journal

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/sirupsen/logrus"
	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
)

const (
	changePrefix = "changes/"
	sequenceKey  = "meta/seq"

	// sequenceBandwidth is how many keys are leased from badger at once.
	sequenceBandwidth = 128
)

// Journal appends gateway changes and answers per-pin history queries.
type Journal struct {
	Logger *logrus.Logger

	db  *badger.DB
	seq *badger.Sequence
}

// record is the stored form of a change. It keeps plain values so the journal
// can be read back regardless of how the gateway renders its enums.
type record struct {
	Seq      uint64
	Pin      int
	Name     string
	Kind     int
	Reserved bool
	Mode     int
	Level    bool
	Sample   int
	Duty     int
	Cause    int
	Origin   int
	Time     time.Time
}

func recordOf(c gateway.Change) record {
	return record{
		Seq:      c.Seq,
		Pin:      c.Pin.Number,
		Name:     c.Pin.Name,
		Kind:     int(c.Pin.Kind),
		Reserved: c.Pin.Reserved,
		Mode:     int(c.Pin.Mode),
		Level:    bool(c.Pin.Level),
		Sample:   c.Pin.Sample,
		Duty:     c.Pin.Duty,
		Cause:    int(c.Cause),
		Origin:   int(c.Origin),
		Time:     c.Time,
	}
}

func (r record) change() gateway.Change {
	return gateway.Change{
		Seq: r.Seq,
		Pin: gateway.Pin{
			Number:   r.Pin,
			Name:     r.Name,
			Kind:     hardware.Kind(r.Kind),
			Reserved: r.Reserved,
			Mode:     gpio.Mode(r.Mode),
			Level:    gpio.Level(r.Level),
			Sample:   r.Sample,
			Duty:     r.Duty,
		},
		Cause:  gateway.Cause(r.Cause),
		Origin: gateway.Origin(r.Origin),
		Time:   r.Time,
	}
}

// Open opens a journal stored in dir. An empty dir keeps the journal in memory.
func Open(dir string, logger *logrus.Logger) (*Journal, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	options := badger.DefaultOptions(dir).WithLogger(logger)
	if dir == "" {
		options = options.WithInMemory(true)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger db: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("couldn't lease journal sequence: %w", err)
	}

	return &Journal{Logger: logger, db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (j *Journal) Close() error {
	if err := j.seq.Release(); err != nil {
		j.Logger.WithError(err).Warn("couldn't release journal sequence")
	}

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("couldn't close badger db: %w", err)
	}

	return nil
}

func pinPrefix(pin int) []byte {
	return []byte(fmt.Sprintf("%s%03d/", changePrefix, pin))
}

// Keys sort by pin, then by the journal's own sequence. The gateway's Seq
// restarts on every reconnect, so it can't order a long-lived journal.
func changeKey(pin int, n uint64) []byte {
	return append(pinPrefix(pin), []byte(fmt.Sprintf("%020d", n))...)
}

// Append stores c.
func (j *Journal) Append(c gateway.Change) error {
	n, err := j.seq.Next()
	if err != nil {
		return fmt.Errorf("couldn't get next journal sequence: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(recordOf(c)); err != nil {
		return fmt.Errorf("couldn't encode change with gob: %w", err)
	}

	err = j.db.Update(func(tx *badger.Txn) error {
		if err := tx.Set(changeKey(c.Pin.Number, n), buf.Bytes()); err != nil {
			return fmt.Errorf("couldn't set change: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("couldn't append change: %w", err)
	}

	return nil
}

// History returns up to limit of the most recent changes of pin, oldest first.
// A limit of zero or less returns everything.
func (j *Journal) History(pin int, limit int) ([]gateway.Change, error) {
	var changes []gateway.Change

	err := j.db.View(func(tx *badger.Txn) error {
		prefix := pinPrefix(pin)

		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := tx.NewIterator(opts)
		defer it.Close()

		// in reverse mode Seek lands on the last key <= the seek key
		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(changes) == limit {
				break
			}

			var r record
			err := it.Item().Value(func(val []byte) error {
				return gob.NewDecoder(bytes.NewReader(val)).Decode(&r)
			})
			if err != nil {
				return fmt.Errorf("couldn't decode change %q with gob: %w", it.Item().Key(), err)
			}

			changes = append(changes, r.change())
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't walk history of pin %d: %w", pin, err)
	}

	for i, k := 0, len(changes)-1; i < k; i, k = i+1, k-1 {
		changes[i], changes[k] = changes[k], changes[i]
	}

	return changes, nil
}

// Clear removes every stored change.
func (j *Journal) Clear() error {
	if err := j.db.DropPrefix([]byte(changePrefix)); err != nil {
		return fmt.Errorf("couldn't drop changes: %w", err)
	}

	return nil
}

// Follow appends every change read from queue until it closes or ctx is done.
// Failed appends are logged and skipped.
func (j *Journal) Follow(ctx context.Context, queue <-chan gateway.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-queue:
			if !ok {
				return
			}

			if err := j.Append(c); err != nil {
				j.Logger.WithField("pin", c.Pin.Number).WithError(err).Error("couldn't journal change")
			}
		}
	}
}
