package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/tarancss/exch/lib/keyring"
	"github.com/tarancss/exch/lib/store"
)

// JSON-RPC error codes used by the API.
const (
	codeInvalidParams = -32602
	codeInternal      = -32603
	codeNotFound      = -32004
)

// methods builds the jrpc2 method map served on the RPC endpoint.
func (e *Exchange) methods() handler.Map {
	return handler.Map{
		"account_balance":  handler.New(e.accountBalance),
		"transfer_balance": handler.New(e.transferBalance),
		"transfer_status":  handler.New(e.transferStatus),
	}
}

// invalidParams reports a validation failure. The message names the expected format so the caller can
// correct the request.
func invalidParams(err error) error {
	return jrpc2.Errorf(jrpc2.Code(codeInvalidParams), "%s", err.Error())
}

// internalErr hides submission and query failures from the caller; the full detail is logged server-side.
func internalErr() error {
	return jrpc2.Errorf(jrpc2.Code(codeInternal), "internal error")
}

// Params accept both by-name objects and positional arrays, as the original callers of this API send
// positional params.

type balanceParams struct {
	Address string `json:"address"`
}

func (p *balanceParams) UnmarshalJSON(data []byte) error {
	var pos []string
	if err := json.Unmarshal(data, &pos); err == nil {
		if len(pos) != 1 {
			return fmt.Errorf("expected 1 parameter, got %d", len(pos))
		}

		p.Address = pos[0]

		return nil
	}

	type plain balanceParams

	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*p = balanceParams(v)

	return nil
}

type transferParams struct {
	From   string `json:"from"`   // secret of the signing identity
	To     string `json:"to"`     // destination address
	Amount string `json:"amount"` // decimal or 0x-prefixed hex
}

func (p *transferParams) UnmarshalJSON(data []byte) error {
	var pos []string
	if err := json.Unmarshal(data, &pos); err == nil {
		if len(pos) != 3 {
			return fmt.Errorf("expected 3 parameters, got %d", len(pos))
		}

		p.From, p.To, p.Amount = pos[0], pos[1], pos[2]

		return nil
	}

	type plain transferParams

	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*p = transferParams(v)

	return nil
}

type statusParams struct {
	Hash string `json:"hash"`
}

func (p *statusParams) UnmarshalJSON(data []byte) error {
	var pos []string
	if err := json.Unmarshal(data, &pos); err == nil {
		if len(pos) != 1 {
			return fmt.Errorf("expected 1 parameter, got %d", len(pos))
		}

		p.Hash = pos[0]

		return nil
	}

	type plain statusParams

	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*p = statusParams(v)

	return nil
}

// transferStatusResult is the journal view returned by transfer_status.
type transferStatusResult struct {
	Hash   string `json:"hash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Nonce  uint64 `json:"nonce"`
	Status string `json:"status"`
	ErrMsg string `json:"errmsg,omitempty"`
}

// accountBalance services the account_balance method: the free balance of the address as a decimal
// string. Unknown accounts report zero.
func (e *Exchange) accountBalance(ctx context.Context, p balanceParams) (string, error) {
	addr, err := e.kr.DecodeAddress(p.Address)
	if err != nil {
		rpcRequests.WithLabelValues("account_balance", "invalid").Inc()

		return "", invalidParams(err)
	}

	bal, err := e.bc.Balance(ctx, addr)
	if err != nil {
		rpcRequests.WithLabelValues("account_balance", "error").Inc()
		log.Printf("[%s] Error querying balance:%e", addr, err)

		return "", internalErr()
	}

	rpcRequests.WithLabelValues("account_balance", "ok").Inc()

	return bal.Dec(), nil
}

// transferBalance services the transfer_balance method: resolve the three inputs, submit a
// nonce-sequenced transfer and return null once the node acknowledges it.
func (e *Exchange) transferBalance(ctx context.Context, p transferParams) error {
	signer, err := e.kr.DecodeSecret(p.From)
	if err != nil {
		rpcRequests.WithLabelValues("transfer_balance", "invalid").Inc()

		return invalidParams(fmt.Errorf("from: %w", err))
	}

	to, err := e.kr.DecodeAddress(p.To)
	if err != nil {
		rpcRequests.WithLabelValues("transfer_balance", "invalid").Inc()

		return invalidParams(fmt.Errorf("to: %w", err))
	}

	amount, err := keyring.ParseAmount(p.Amount)
	if err != nil {
		rpcRequests.WithLabelValues("transfer_balance", "invalid").Inc()

		return invalidParams(fmt.Errorf("amount: %w", err))
	}

	if _, err = e.submitTransfer(ctx, signer, to, amount); err != nil {
		rpcRequests.WithLabelValues("transfer_balance", "error").Inc()
		log.Printf("Error submitting transfer:%e", err)

		return internalErr()
	}

	rpcRequests.WithLabelValues("transfer_balance", "ok").Inc()

	return nil
}

// transferStatus services the transfer_status method from the journal.
func (e *Exchange) transferStatus(ctx context.Context, p statusParams) (*transferStatusResult, error) {
	if e.db == nil {
		rpcRequests.WithLabelValues("transfer_status", "error").Inc()

		return nil, internalErr()
	}

	tr, err := e.db.GetTransfer(p.Hash)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			rpcRequests.WithLabelValues("transfer_status", "invalid").Inc()

			return nil, jrpc2.Errorf(jrpc2.Code(codeNotFound), "transfer not found")
		}

		rpcRequests.WithLabelValues("transfer_status", "error").Inc()
		log.Printf("[%s] Error reading journal:%e", p.Hash, err)

		return nil, internalErr()
	}

	rpcRequests.WithLabelValues("transfer_status", "ok").Inc()

	return &transferStatusResult{
		Hash:   tr.Hash,
		From:   tr.From,
		To:     tr.To,
		Amount: tr.Amount,
		Nonce:  tr.Nonce,
		Status: tr.Status,
		ErrMsg: tr.ErrMsg,
	}, nil
}
