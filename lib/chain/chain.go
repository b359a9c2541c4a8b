// Package chain defines the interface required for the connection to the settlement chain node.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tarancss/exch/lib/keyring"
)

// Transfer types understood by the node.
const TypeTransfer = 0

// Transfer lifecycle as reported by the node and recorded in the journal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFinalized Status = "finalized"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// Errors returned by chain clients.
var (
	ErrNotFound = errors.New("transfer not found")
	ErrRejected = errors.New("transfer rejected by node")
)

// SignedTransfer is a balance transfer ready for submission. The signature covers Payload.
type SignedTransfer struct {
	From      keyring.Address
	To        keyring.Address
	Amount    *uint256.Int
	Nonce     uint64
	Timestamp uint64
	Signature string // base58
}

// Payload is the byte string covered by the signature. The timestamp is excluded so a transfer can be
// re-submitted verbatim.
func (t *SignedTransfer) Payload() []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%s|%d", TypeTransfer, t.From, t.To, t.Amount.Dec(), t.Nonce))
}

// TransferInfo is the node's view of a submitted transfer.
type TransferInfo struct {
	Hash      string
	Status    Status
	BlockHash string
	ErrMsg    string
}

// Client is an interface that contains the required methods to talk to a chain node. It has been designed to
// be as much standard as possible, however, specific chains may require different types or more methods.
type Client interface {
	// methods
	Close()
	Balance(ctx context.Context, account keyring.Address) (*uint256.Int, error)
	Nonce(ctx context.Context, account keyring.Address) (uint64, error)
	BuildTransfer(signer *keyring.Signer, from, to keyring.Address, amount *uint256.Int,
		nonce uint64) (*SignedTransfer, error)
	Submit(ctx context.Context, t *SignedTransfer) (hash string, err error)
	TransferStatus(ctx context.Context, hash string) (*TransferInfo, error)
}
