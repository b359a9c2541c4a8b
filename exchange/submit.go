package exchange

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/holiman/uint256"

	"github.com/tarancss/exch/lib/keyring"
	"github.com/tarancss/exch/lib/msg"
	"github.com/tarancss/exch/lib/store"
)

// submitTransfer hands a signed transfer of amount from the signer's account to the destination over to
// the node and returns the transaction hash the node acknowledged.
//
// Nonce accounting: the signer's cache entry is locked only around read-build-bump. The nonce slot is
// consumed the moment a signed instruction for it exists; the bump is never rolled back, even if the
// submission later fails, because the chain may already have observed the instruction. Building the
// instruction can still fail before anything is broadcast, in which case the slot is left untouched.
func (e *Exchange) submitTransfer(ctx context.Context, signer *keyring.Signer, to keyring.Address,
	amount *uint256.Int) (string, error) {
	from := e.kr.AddressOf(signer)

	en := e.nonces.entry(from)
	en.mu.Lock()

	nonce := en.next

	if !en.known {
		var err error
		if nonce, err = e.bc.Nonce(ctx, from); err != nil {
			en.mu.Unlock()

			return "", fmt.Errorf("could not read nonce for %s: %w", from, err)
		}
	}

	tr, err := e.bc.BuildTransfer(signer, from, to, amount, nonce)
	if err != nil {
		en.mu.Unlock()

		return "", fmt.Errorf("could not build transfer: %w", err)
	}

	en.next = nonce + 1
	en.known = true
	en.mu.Unlock()

	// submission happens outside the lock; other transfers from the same identity proceed with their
	// own nonce slots while this one is in flight
	hash, err := e.bc.Submit(ctx, tr)
	if err != nil {
		return "", fmt.Errorf("could not submit transfer with nonce %d: %w", nonce, err)
	}

	log.Printf("[%s] Submitted transfer of %s from %s to %s with nonce %d",
		hash, amount.Dec(), from, to, nonce)
	transfersSubmitted.Inc()

	e.journal(hash, tr.From, to, amount, nonce)

	return hash, nil
}

// journal records an acknowledged submission and announces it. Both are best-effort: the transfer is
// already on its way, so failures are logged and never surfaced to the caller.
func (e *Exchange) journal(hash string, from, to keyring.Address, amount *uint256.Int, nonce uint64) {
	now := time.Now().UTC()

	if e.db != nil {
		err := e.db.SaveTransfer(store.TransferRecord{
			Hash:    hash,
			From:    string(from),
			To:      string(to),
			Amount:  amount.Dec(),
			Nonce:   nonce,
			Status:  store.StatusPending,
			Created: now,
			Updated: now,
		})
		if err != nil {
			log.Printf("[%s] Error journaling transfer:%e", hash, err)
		}
	}

	if e.mb != nil {
		err := e.mb.SendTransferEvent(msg.TransferEvent{
			Hash:   hash,
			From:   string(from),
			To:     string(to),
			Amount: amount.Dec(),
			Nonce:  nonce,
			Status: store.StatusPending,
		})
		if err != nil {
			log.Printf("[%s] Error publishing transfer event:%e", hash, err)
		}
	}
}
