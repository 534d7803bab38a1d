package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/turkycat/remote-wiring-experience/hardware"
	"go.etcd.io/bbolt"
)

type BBolt struct {
	db *bbolt.DB
}

const (
	bboltPanelBucket  = "panel"
	bboltLabelsBucket = "labels" // child of panel

	// panel keys
	bboltHardwareKey = "hardware"
)

// OpenBBolt opens a BBoltDB database at the given path and creates the needed buckets
// if they don't exist.
func OpenBBolt(path string, mode os.FileMode, options *bbolt.Options) (Store, error) {
	db, err := bbolt.Open(path, mode, options)
	if err != nil {
		return nil, fmt.Errorf("unable to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		panelBucket, err := tx.CreateBucketIfNotExists([]byte(bboltPanelBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %q: %w", bboltPanelBucket, err)
		}

		_, err = panelBucket.CreateBucketIfNotExists([]byte(bboltLabelsBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %q: %w", bboltLabelsBucket, err)
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create bbolt buckets: %w", err)
	}

	return &BBolt{
		db: db,
	}, nil
}

func (b *BBolt) Close() error {
	return b.db.Close()
}

func (b *BBolt) Labels() (map[int]string, error) {
	labels := make(map[int]string)

	err := b.db.View(func(tx *bbolt.Tx) error {
		labelsBucket := tx.Bucket([]byte(bboltPanelBucket)).Bucket([]byte(bboltLabelsBucket))

		err := labelsBucket.ForEach(func(k, v []byte) error {
			pin, err := strconv.Atoi(string(k))
			if err != nil {
				return fmt.Errorf("unable to parse label key %q: %w", k, err)
			}

			labels[pin] = string(v)
			return nil
		})
		if err != nil {
			return fmt.Errorf("unable to iterate over labels bucket: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list labels: %w", err)
	}

	return labels, nil
}

func (b *BBolt) PutLabel(pin int, label string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		labelsBucket := tx.Bucket([]byte(bboltPanelBucket)).Bucket([]byte(bboltLabelsBucket))
		key := []byte(strconv.Itoa(pin))

		if label == "" {
			return labelsBucket.Delete(key)
		}

		if err := labelsBucket.Put(key, []byte(label)); err != nil {
			return fmt.Errorf("unable to put label of pin %d: %w", pin, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to update label: %w", err)
	}

	return nil
}

func (b *BBolt) HardwareConfig() (hardware.Config, error) {
	var h hardware.Config
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bboltPanelBucket))
		hardwareJSON := bucket.Get([]byte(bboltHardwareKey))
		if hardwareJSON == nil {
			return fmt.Errorf("hardware config %w", ErrNotFound)
		}

		if err := json.Unmarshal(hardwareJSON, &h); err != nil {
			return fmt.Errorf("unable to unmarshal hardware config JSON: %w", err)
		}

		return nil
	})
	if err != nil {
		return h, fmt.Errorf("unable to get hardware config: %w", err)
	}

	return h, nil
}

func (b *BBolt) PutHardwareConfig(h hardware.Config) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("refusing to store hardware config: %w", err)
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		hardwareJSON, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("unable to marshal hardware config: %w", err)
		}

		bucket := tx.Bucket([]byte(bboltPanelBucket))
		if err := bucket.Put([]byte(bboltHardwareKey), hardwareJSON); err != nil {
			return fmt.Errorf("unable to put hardware config: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to update hardware config: %w", err)
	}

	return nil
}
