// Package exchange implements the exchange microservice.
//
// This microservice exposes a JSON-RPC 2.0 API for clients to query account balances and submit
// nonce-sequenced balance transfers to a chain node. Submitted transfers are journaled and their eventual
// outcome is tracked by a background watcher.
package exchange

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2/jhttp"

	"github.com/tarancss/exch/lib/chain"
	"github.com/tarancss/exch/lib/keyring"
	"github.com/tarancss/exch/lib/msg"
	"github.com/tarancss/exch/lib/store"
	"github.com/tarancss/exch/lib/store/db"
)

// statusTimeout bounds each watcher query to the node.
const statusTimeout = 10 * time.Second

// Exchange contains the data necessary to deliver the service
type Exchange struct {
	dbtype string
	db     store.DB      // journal db connection
	mb     msg.MsgBroker // message broker, optional
	bc     chain.Client  // chain node client
	kr     *keyring.Keyring
	nonces *nonceCache
	lim    *ipLimiter
	br     *jhttp.Bridge
	s      *http.Server  // http server
	ss     *http.Server  // https server
	sc     chan struct{} // http server channel used for graceful shutdowns
	wc     chan struct{} // watcher channel used to stop polling
}

// New returns a pointer to a new Exchange service
func New(dbtype string, dbConn store.DB, mb msg.MsgBroker, bc chain.Client, kr *keyring.Keyring) *Exchange {
	return &Exchange{
		dbtype: dbtype,
		db:     dbConn,
		mb:     mb,
		bc:     bc,
		kr:     kr,
		nonces: newNonceCache(),
		wc:     make(chan struct{}),
	}
}

// Stop shuts down the http servers implementing the JSON-RPC API and closes gracefully the connections to
// message broker, chain node and database.
func (e *Exchange) Stop() {
	var err error

	close(e.wc) // stop the transfer watcher

	if e.br != nil {
		if err = e.br.Close(); err != nil {
			log.Printf("Error closing JSON-RPC bridge:%e", err)
		}
	}
	// shutdown http server
	if e.s != nil {
		if err = e.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if e.ss != nil {
		if err = e.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	close(e.sc) // close server channel to indicate shutdowns have finished
	// close message broker
	if e.mb != nil {
		if err = e.mb.Close(); err != nil {
			log.Printf("Error closing message broker:%e", err)
		}
	}
	// close chain client
	if e.bc != nil {
		e.bc.Close()
	}
	// close database
	if e.db != nil {
		err = db.Close(e.dbtype, e.db)
		log.Printf("Disconnecting %v database, err:%e\n", e.dbtype, err)
	}
}

// WatchTransfers starts a go routine that polls the journal for pending transfers and asks the node for
// their outcome. Finalized or failed transfers are updated in the journal and published to the broker.
func (e *Exchange) WatchTransfers(interval time.Duration) {
	if e.db == nil {
		return
	}

	go func() {
		log.Printf("Start watching pending transfers every %s", interval)

		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-e.wc:
				log.Print("Stop watching pending transfers")

				return
			case <-t.C:
				e.pollPending()
			}
		}
	}()
}

// pollPending runs one watcher pass over the journal.
func (e *Exchange) pollPending() {
	pending, err := e.db.PendingTransfers()
	if err != nil {
		log.Printf("Error reading pending transfers from journal:%e", err)

		return
	}

	for i := range pending {
		tr := &pending[i]

		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		info, err := e.bc.TransferStatus(ctx, tr.Hash)
		cancel()

		if err != nil {
			// a transfer the node has not seen yet stays pending
			if !errors.Is(err, chain.ErrNotFound) {
				log.Printf("[%s] Error querying transfer status:%e", tr.Hash, err)
			}

			continue
		}

		if info.Status != chain.StatusFinalized && info.Status != chain.StatusFailed {
			continue
		}

		if err = e.db.UpdateTransfer(tr.Hash, string(info.Status), info.ErrMsg); err != nil {
			log.Printf("[%s] Error updating journal:%e", tr.Hash, err)

			continue
		}

		transferOutcomes.WithLabelValues(string(info.Status)).Inc()
		log.Printf("[%s] Transfer %s", tr.Hash, info.Status)

		if e.mb != nil {
			err = e.mb.SendTransferEvent(msg.TransferEvent{
				Hash:   tr.Hash,
				From:   tr.From,
				To:     tr.To,
				Amount: tr.Amount,
				Nonce:  tr.Nonce,
				Status: string(info.Status),
				ErrMsg: info.ErrMsg,
			})
			if err != nil {
				log.Printf("[%s] Error publishing transfer event:%e", tr.Hash, err)
			}
		}
	}
}
