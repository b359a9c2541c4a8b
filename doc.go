// Package exch implements a JSON-RPC shim providing a simplified wallet
// interface to a nonce-sequenced blockchain node.
/*
exch exposes a single JSON-RPC 2.0 endpoint over HTTP with three methods:

1) account_balance returns the free balance of a checksummed base58 address as
a decimal string.

2) transfer_balance signs and submits a transfer of funds. The caller supplies
the sender's secret (a seed phrase, //derivation path or 0x-prefixed seed), the
destination address and the amount. The shim resolves the secret locally,
allocates the next nonce for the derived address, signs the transfer and hands
it to the chain node. Nonce allocation is serialized per sending address so
concurrent transfers from the same identity never reuse a nonce, while
transfers from different identities proceed in parallel.

3) transfer_status returns the journal record of a submitted transfer.

Architecture

The shim keeps no keys. Secrets arrive per request, are resolved by the
keyring layer (lib/keyring) and are dropped when the request ends. The chain
node is reached through a narrow client interface (lib/chain) with a JSON-RPC
implementation (lib/chain/node); connection management, block production and
consensus are the node's business, not ours.

Submitted transfers are recorded in a journal (lib/store) with MongoDB,
PostgreSQL and embedded bbolt backends, and their lifecycle is published to a
message broker (lib/msg) so front-ends can follow outcomes in real time. A
background watcher polls the node for the final status of each submission.

The service can be monitored via a Prometheus API by setting the flag "-m" at
startup.

Check Alice's account balance with curl:

 curl -X POST -H "content-type: application/json" -d
 '{"jsonrpc":"2.0","id":0,"method":"account_balance","params":["5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"]}'
 http://127.0.0.1:3030

Transfer 10 from Alice to Bob:

 curl -X POST -H "content-type: application/json" -d
 '{"jsonrpc":"2.0","id":0,"method":"transfer_balance","params":["//Alice", "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", "10"]}'
 http://127.0.0.1:3030
*/
package exch
