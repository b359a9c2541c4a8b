// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"
)

// TransferEvent is the message published whenever a submitted transfer changes state, so downstream
// services can react without polling the journal.
type TransferEvent struct {
	Hash   string `json:"hash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Nonce  uint64 `json:"nonce"`
	Status string `json:"status"`
	ErrMsg string `json:"errmsg,omitempty"`
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	SendTransferEvent(e TransferEvent) error
	GetTransferEvents(mut *sync.Mutex) (<-chan TransferEvent, <-chan error, error)
}
