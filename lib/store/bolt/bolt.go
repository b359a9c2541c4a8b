// Package bolt implements the journal interface on an embedded bbolt file. It is the default backend so
// the service runs without external infrastructure.
package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/tarancss/exch/lib/store"
)

var bucket = []byte("transfers")

// Bolt implements a journal on a local bbolt file.
type Bolt struct {
	db *bbolt.DB
}

// New opens (or creates) the bbolt file at path and ensures the journal bucket exists.
func New(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open journal file %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, errB := tx.CreateBucketIfNotExists(bucket)

		return errB
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create journal bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

// CloseBolt will close the journal file. Must be called at termination time.
func (b *Bolt) CloseBolt() error {
	return b.db.Close()
}

// SaveTransfer inserts a transfer record. Saving the same hash twice leaves the first record in place.
func (b *Bolt) SaveTransfer(tr store.TransferRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucket)
		if bk.Get([]byte(tr.Hash)) != nil {
			return nil
		}

		raw, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("could not encode transfer: %w", err)
		}

		return bk.Put([]byte(tr.Hash), raw)
	})
}

// UpdateTransfer sets the status and error message of the transfer identified by hash.
func (b *Bolt) UpdateTransfer(hash, status, errMsg string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucket)

		raw := bk.Get([]byte(hash))
		if raw == nil {
			return store.ErrTransferNotFound
		}

		var tr store.TransferRecord
		if err := json.Unmarshal(raw, &tr); err != nil {
			return fmt.Errorf("could not decode transfer: %w", err)
		}

		tr.Status = status
		tr.ErrMsg = errMsg
		tr.Updated = time.Now().UTC()

		raw, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("could not encode transfer: %w", err)
		}

		return bk.Put([]byte(hash), raw)
	})
}

// GetTransfer returns the transfer record identified by hash.
func (b *Bolt) GetTransfer(hash string) (tr store.TransferRecord, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucket).Get([]byte(hash))
		if raw == nil {
			return store.ErrTransferNotFound
		}

		return json.Unmarshal(raw, &tr)
	})

	return
}

// PendingTransfers returns the records of transfers not yet finalized or failed.
func (b *Bolt) PendingTransfers() ([]store.TransferRecord, error) {
	trs := []store.TransferRecord{}

	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, raw []byte) error {
			var tr store.TransferRecord
			if err := json.Unmarshal(raw, &tr); err != nil {
				return err
			}

			if tr.Status == store.StatusPending {
				trs = append(trs, tr)
			}

			return nil
		})
	})

	return trs, err
}
