// Package node implements the connection to a chain node exposing the JSON-RPC HTTP gateway.
package node

import (
	"context"
	"fmt"
	"net/rpc"
	"time"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"
	"github.com/powerman/rpc-codec/jsonrpc2"

	"github.com/tarancss/exch/lib/chain"
	"github.com/tarancss/exch/lib/keyring"
)

// Transfer status codes reported by the node.
const (
	statusPending   = 0
	statusFinalized = 1
	statusFailed    = 2
)

// nonceTag selects the nonce the node reports. "pending" yields the next usable nonce including
// transfers still in the mempool.
const nonceTag = "pending"

// JSON-RPC error code the node uses for unknown transfer hashes.
const codeTxNotFound = -32004

// Node implements chain.Client over the node's JSON-RPC gateway.
type Node struct {
	url string
	c   *jsonrpc2.Client
}

// request and response payloads of the node's gateway.
type getAccountRequest struct {
	Address string `json:"address"`
}

type getAccountResponse struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Nonce    uint64 `json:"nonce"`
	Decimals uint32 `json:"decimals"`
}

type getNonceRequest struct {
	Address string `json:"address"`
	Tag     string `json:"tag"`
}

type getNonceResponse struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Tag     string `json:"tag"`
	Error   string `json:"error"`
}

type txMsg struct {
	Type      int32  `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Timestamp uint64 `json:"timestamp"`
	Nonce     uint64 `json:"nonce"`
}

type signedTx struct {
	TxMsg     txMsg  `json:"tx_msg"`
	Signature string `json:"signature"`
}

type addTxResponse struct {
	Ok     bool   `json:"ok"`
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

type getTxStatusRequest struct {
	TxHash string `json:"tx_hash"`
}

type txStatusInfo struct {
	TxHash       string `json:"tx_hash"`
	Status       int32  `json:"status"`
	BlockHash    string `json:"block_hash"`
	ErrorMessage string `json:"error_message"`
	Timestamp    uint64 `json:"timestamp"`
}

// Init connects a client to the node's JSON-RPC gateway at the given url.
func Init(url string) (*Node, error) {
	if url == "" {
		return nil, fmt.Errorf("node: empty url")
	}

	return &Node{url: url, c: jsonrpc2.NewHTTPClient(url)}, nil
}

// Close closes the connection to the node.
func (n *Node) Close() {
	_ = n.c.Close()
}

// call places a JSON-RPC request honouring ctx cancellation.
func (n *Node) call(ctx context.Context, method string, args, reply interface{}) error {
	c := n.c.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-c.Done:
		return done.Error
	}
}

// Balance returns the on-chain balance of account.
func (n *Node) Balance(ctx context.Context, account keyring.Address) (*uint256.Int, error) {
	var res getAccountResponse
	if err := n.call(ctx, "account.getaccount", getAccountRequest{Address: string(account)}, &res); err != nil {
		return nil, fmt.Errorf("node: get account: %w", err)
	}

	if res.Balance == "" { // account not seen yet
		return uint256.NewInt(0), nil
	}

	bal, err := uint256.FromDecimal(res.Balance)
	if err != nil {
		return nil, fmt.Errorf("node: bad balance %q: %w", res.Balance, err)
	}

	return bal, nil
}

// Nonce returns the next usable nonce of account, including transfers still in the node's mempool.
func (n *Node) Nonce(ctx context.Context, account keyring.Address) (uint64, error) {
	var res getNonceResponse
	if err := n.call(ctx, "account.getcurrentnonce", getNonceRequest{Address: string(account), Tag: nonceTag},
		&res); err != nil {
		return 0, fmt.Errorf("node: get nonce: %w", err)
	}

	if res.Error != "" {
		return 0, fmt.Errorf("node: get nonce: %s", res.Error)
	}

	return res.Nonce, nil
}

// BuildTransfer signs a transfer of amount from signer's account to the destination with the given nonce.
func (n *Node) BuildTransfer(signer *keyring.Signer, from, to keyring.Address, amount *uint256.Int,
	nonce uint64) (*chain.SignedTransfer, error) {
	if signer == nil || amount == nil {
		return nil, fmt.Errorf("node: incomplete transfer")
	}

	t := &chain.SignedTransfer{
		From:      from,
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		Timestamp: uint64(time.Now().Unix()),
	}
	t.Signature = base58.Encode(signer.Sign(t.Payload()))

	return t, nil
}

// Submit sends a signed transfer to the node's mempool. The hash returned identifies the transfer for
// status queries; acceptance does not mean the transfer is final.
func (n *Node) Submit(ctx context.Context, t *chain.SignedTransfer) (string, error) {
	req := signedTx{
		TxMsg: txMsg{
			Type:      chain.TypeTransfer,
			Sender:    string(t.From),
			Recipient: string(t.To),
			Amount:    t.Amount.Dec(),
			Timestamp: t.Timestamp,
			Nonce:     t.Nonce,
		},
		Signature: t.Signature,
	}

	var res addTxResponse
	if err := n.call(ctx, "tx.addtx", req, &res); err != nil {
		return "", fmt.Errorf("node: add tx: %w", err)
	}

	if !res.Ok {
		return "", fmt.Errorf("%w: %s", chain.ErrRejected, res.Error)
	}

	return res.TxHash, nil
}

// TransferStatus queries the node for the state of a submitted transfer.
func (n *Node) TransferStatus(ctx context.Context, hash string) (*chain.TransferInfo, error) {
	var res txStatusInfo

	err := n.call(ctx, "tx.gettransactionstatus", getTxStatusRequest{TxHash: hash}, &res)
	if err != nil {
		// remote errors arrive as rpc.ServerError and need decoding before the code is visible
		if _, ok := err.(rpc.ServerError); ok {
			if rpcErr := jsonrpc2.ServerError(err); rpcErr != nil && rpcErr.Code == codeTxNotFound {
				return nil, chain.ErrNotFound
			}
		}

		return nil, fmt.Errorf("node: get status: %w", err)
	}

	info := &chain.TransferInfo{Hash: res.TxHash, BlockHash: res.BlockHash, ErrMsg: res.ErrorMessage}

	switch res.Status {
	case statusPending:
		info.Status = chain.StatusPending
	case statusFinalized:
		info.Status = chain.StatusFinalized
	case statusFailed:
		info.Status = chain.StatusFailed
	default:
		info.Status = chain.StatusUnknown
	}

	return info, nil
}
