// Package db implements the opening and graceful closing of journal database connections.
package db

import (
	"fmt"

	"github.com/tarancss/exch/lib/store"
	"github.com/tarancss/exch/lib/store/bolt"
	"github.com/tarancss/exch/lib/store/mongo"
	"github.com/tarancss/exch/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	BOLT     string = "bolt"
)

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	case BOLT:
		return bolt.New(connection)
	}

	return nil, fmt.Errorf("unknown journal database type %q", options)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	case BOLT:
		return dh.(*bolt.Bolt).CloseBolt()
	}

	return nil
}
