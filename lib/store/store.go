// Package store defines the interface for database implementations of the transfer journal.
package store

import (
	"errors"
)

// DB defines required methods for the transfer journal.
type DB interface {
	SaveTransfer(TransferRecord) error
	UpdateTransfer(hash, status, errMsg string) error
	GetTransfer(hash string) (TransferRecord, error)
	PendingTransfers() ([]TransferRecord, error)
}

// StatusPending marks records of transfers awaiting finality. Backends filter on it.
const StatusPending = "pending"

// Errors returned.
var (
	ErrTransferNotFound = errors.New("transfer was not found in store")
)
