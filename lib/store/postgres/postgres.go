// Package postgres implements the journal interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/tarancss/exch/lib/store"
)

// schema holds the journal table. Created on connection if missing.
const schema = `CREATE TABLE IF NOT EXISTS transfers (
	hash    TEXT PRIMARY KEY,
	src     TEXT NOT NULL,
	dst     TEXT NOT NULL,
	amount  TEXT NOT NULL,
	nonce   BIGINT NOT NULL,
	status  TEXT NOT NULL,
	errmsg  TEXT NOT NULL DEFAULT '',
	created TIMESTAMPTZ NOT NULL,
	updated TIMESTAMPTZ NOT NULL
)`

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("cannot create journal table: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// SaveTransfer inserts a transfer record. Saving the same hash twice leaves the first record in place.
func (p *Postgres) SaveTransfer(tr store.TransferRecord) error {
	_, err := p.db.Exec(
		`INSERT INTO transfers (hash, src, dst, amount, nonce, status, errmsg, created, updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (hash) DO NOTHING`,
		tr.Hash, tr.From, tr.To, tr.Amount, tr.Nonce, tr.Status, tr.ErrMsg, tr.Created, tr.Updated)
	if err != nil {
		return fmt.Errorf("could not insert transfer in db: %w", err)
	}

	return nil
}

// UpdateTransfer sets the status and error message of the transfer identified by hash.
func (p *Postgres) UpdateTransfer(hash, status, errMsg string) error {
	res, err := p.db.Exec(
		`UPDATE transfers SET status = $2, errmsg = $3, updated = $4 WHERE hash = $1`,
		hash, status, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("could not update transfer in db: %w", err)
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrTransferNotFound
	}

	return nil
}

// GetTransfer returns the transfer record identified by hash.
func (p *Postgres) GetTransfer(hash string) (tr store.TransferRecord, err error) {
	row := p.db.QueryRow(
		`SELECT hash, src, dst, amount, nonce, status, errmsg, created, updated
		 FROM transfers WHERE hash = $1`, hash)

	err = row.Scan(&tr.Hash, &tr.From, &tr.To, &tr.Amount, &tr.Nonce, &tr.Status, &tr.ErrMsg,
		&tr.Created, &tr.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		err = store.ErrTransferNotFound
	}

	return
}

// PendingTransfers returns the records of transfers not yet finalized or failed.
func (p *Postgres) PendingTransfers() ([]store.TransferRecord, error) {
	rows, err := p.db.Query(
		`SELECT hash, src, dst, amount, nonce, status, errmsg, created, updated
		 FROM transfers WHERE status = $1`, store.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("could not query transfers: %w", err)
	}
	defer rows.Close()

	trs := []store.TransferRecord{}

	for rows.Next() {
		var tr store.TransferRecord
		if err = rows.Scan(&tr.Hash, &tr.From, &tr.To, &tr.Amount, &tr.Nonce, &tr.Status, &tr.ErrMsg,
			&tr.Created, &tr.Updated); err != nil {
			return nil, fmt.Errorf("could not scan transfer: %w", err)
		}

		trs = append(trs, tr)
	}

	return trs, rows.Err()
}
