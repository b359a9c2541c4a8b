package exchange

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tarancss/exch/lib/chain/node"
	"github.com/tarancss/exch/lib/keyring"
	"github.com/tarancss/exch/lib/store/db"
)

// gatewayState is the mock node's world: balances and nonces per address, plus the hashes it has
// accepted into its mempool.
type gatewayState struct {
	mu       sync.Mutex
	balances map[string]string
	nonces   map[string]uint64
	accepted map[string]bool
}

// gatewayHandler serves the node's JSON-RPC gateway against the given state.
func gatewayHandler(st *gatewayState) http.HandlerFunc {
	type request struct {
		Version string           `json:"jsonrpc"`
		Method  string           `json:"method"`
		Params  *json.RawMessage `json:"params"`
		ID      *json.RawMessage `json:"id"`
	}

	type response struct {
		Version string           `json:"jsonrpc"`
		ID      *json.RawMessage `json:"id"`
		Result  interface{}      `json:"result,omitempty"`
		Error   interface{}      `json:"error,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		var res response

		defer func() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			res.Version = "2.0"
			if err := json.NewEncoder(w).Encode(res); err != nil {
				fmt.Printf("[Mock node] Error encoding response:%e\n", err)
			}
		}()

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			res.Error = map[string]interface{}{"code": -32700, "message": err.Error()}

			return
		}
		res.ID = req.ID

		st.mu.Lock()
		defer st.mu.Unlock()

		switch req.Method {
		case "account.getaccount":
			var p struct {
				Address string `json:"address"`
			}
			_ = json.Unmarshal(*req.Params, &p)

			res.Result = map[string]interface{}{"address": p.Address, "balance": st.balances[p.Address]}
		case "account.getcurrentnonce":
			var p struct {
				Address string `json:"address"`
				Tag     string `json:"tag"`
			}
			_ = json.Unmarshal(*req.Params, &p)

			res.Result = map[string]interface{}{"address": p.Address, "nonce": st.nonces[p.Address], "tag": p.Tag}
		case "tx.addtx":
			var p struct {
				TxMsg struct {
					Type      int32  `json:"type"`
					Sender    string `json:"sender"`
					Recipient string `json:"recipient"`
					Amount    string `json:"amount"`
					Nonce     uint64 `json:"nonce"`
				} `json:"tx_msg"`
			}
			_ = json.Unmarshal(*req.Params, &p)

			payload := fmt.Sprintf("%d|%s|%s|%s|%d",
				p.TxMsg.Type, p.TxMsg.Sender, p.TxMsg.Recipient, p.TxMsg.Amount, p.TxMsg.Nonce)
			sum := sha256.Sum256([]byte(payload))
			hash := hex.EncodeToString(sum[:])
			st.accepted[hash] = true

			res.Result = map[string]interface{}{"ok": true, "tx_hash": hash}
		case "tx.gettransactionstatus":
			var p struct {
				TxHash string `json:"tx_hash"`
			}
			_ = json.Unmarshal(*req.Params, &p)

			if !st.accepted[p.TxHash] {
				res.Error = map[string]interface{}{"code": -32004, "message": "not found"}

				return
			}
			// everything accepted finalizes on the next look
			res.Result = map[string]interface{}{"tx_hash": p.TxHash, "status": 1, "block_hash": "aa01"}
		default:
			res.Error = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// postRPC places a JSON-RPC request on uri and returns the decoded response.
func postRPC(t *testing.T, uri, method string, params interface{}) rpcResponse {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatalf("Error marshaling request:%e", err)
	}

	resp, err := http.Post(uri, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Error in http request:%e", err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Error decoding response:%e", err)
	}

	return out
}

func TestAPI(t *testing.T) {
	// start a mock chain node
	st := &gatewayState{
		balances: map[string]string{},
		nonces:   map[string]uint64{},
		accepted: map[string]bool{},
	}
	mock := httptest.NewServer(gatewayHandler(st))
	t.Logf("Info: running tests against mock chain node in %s", mock.URL)
	defer mock.Close()

	// connect to an embedded journal
	dbConn, err := db.New(db.BOLT, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Error opening journal:%e", err)
	}

	// connect the chain client to the mock node
	bc, err := node.Init(mock.URL)
	if err != nil {
		t.Fatalf("Error connecting to mock node:%e", err)
	}

	// load keyring and test identities
	seed, _ := hex.DecodeString("642ce4e20f09c9f4d285c2b336063eaafbe4cb06dece8134f3a64bdd8f8c0c24")
	kr, err := keyring.New(42, seed)
	if err != nil {
		t.Fatalf("Error initialising keyring:%e", err)
	}

	aliceSigner, _ := kr.DecodeSecret("//Alice")
	bobSigner, _ := kr.DecodeSecret("//Bob")
	alice := string(kr.AddressOf(aliceSigner))
	bob := string(kr.AddressOf(bobSigner))

	st.balances[alice] = "1000000"
	st.nonces[alice] = 5

	// set up server for API
	e := New(db.BOLT, dbConn, nil, bc, kr)
	go e.Init("", "3232", "", "", "", 0, 0)
	time.Sleep(200 * time.Millisecond) // let the server come up

	url := "http://localhost:3232"

	// define tests
	cases := []struct {
		name, method string
		params       interface{} // positional array or by-name object
		errCode      int         // expected JSON-RPC error code, 0 for success
		errExp       string      // expected substring of the error message
		resExp       string      // expected raw result
	}{
		{"balance_1", "account_balance", []string{alice}, 0, "", `"1000000"`},
		{"balance_2", "account_balance", []string{bob}, 0, "", `"0"`},
		{"balance_3", "account_balance", []string{"n0nsense"}, -32602, "base58", ""},
		{"balance_4", "account_balance", map[string]string{"address": alice}, 0, "", `"1000000"`},
		{"transfer_1", "transfer_balance", []string{"//Alice", bob, "10"}, 0, "", "null"},
		{"transfer_2", "transfer_balance", []string{"Alice", bob, "10"}, -32602, "seed phrase", ""},
		{"transfer_3", "transfer_balance", []string{"//Alice", "n0nsense", "10"}, -32602, "to:", ""},
		{"transfer_4", "transfer_balance", []string{"//Alice", bob, "0xg"}, -32602, "amount:", ""},
		{"transfer_5", "transfer_balance", []string{"//Alice", bob}, -32602, "", ""},
		{"status_1", "transfer_status", []string{"ffff"}, -32004, "not found", ""},
		{"unknown_1", "no_such_method", []string{}, -32601, "", ""},
	}

	// run tests
	for _, c := range cases {
		r := postRPC(t, url, c.method, c.params)

		if c.errCode == 0 {
			if r.Error != nil {
				t.Errorf("[%s] Error in response:%+v", c.name, r.Error)
			} else if string(r.Result) != c.resExp {
				t.Errorf("[%s] Error in result:%s expected:%s", c.name, r.Result, c.resExp)
			}

			continue
		}

		if r.Error == nil {
			t.Errorf("[%s] Expected error %d, got result:%s", c.name, c.errCode, r.Result)
		} else if r.Error.Code != c.errCode {
			t.Errorf("[%s] Error code:%d expected:%d", c.name, r.Error.Code, c.errCode)
		} else if c.errExp != "" && !strings.Contains(r.Error.Message, c.errExp) {
			t.Errorf("[%s] Error message:%s expected to contain:%s", c.name, r.Error.Message, c.errExp)
		}
	}

	// the accepted transfer is journaled as pending with the chain's nonce
	pending, err := dbConn.PendingTransfers()
	if err != nil {
		t.Fatalf("Error reading journal:%e", err)
	}

	if len(pending) != 1 || pending[0].Nonce != 5 || pending[0].From != alice || pending[0].Amount != "10" {
		t.Fatalf("journal does not hold the expected pending transfer:%+v", pending)
	}

	hash := pending[0].Hash

	// transfer_status reports it pending
	r := postRPC(t, url, "transfer_status", []string{hash})
	if r.Error != nil || !strings.Contains(string(r.Result), `"status":"pending"`) {
		t.Errorf("transfer_status does not report pending:%s %+v", r.Result, r.Error)
	}

	// the watcher finalizes it from the node's view
	e.WatchTransfers(50 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		tr, errGet := dbConn.GetTransfer(hash)
		if errGet == nil && tr.Status == "finalized" {
			break
		}

		if time.Now().After(deadline) {
			t.Errorf("transfer was not finalized by the watcher:%+v", tr)

			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	e.Stop()
}
