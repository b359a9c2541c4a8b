// Package mongo implements the journal interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/exch/lib/store"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// col returns the journal collection.
func (m *Mongo) col() *mgo.Collection {
	return m.c.Database("journal").Collection("transfers")
}

// SaveTransfer inserts a transfer record. The record hash must be unique; saving the same hash twice
// leaves the first record in place.
func (m *Mongo) SaveTransfer(tr store.TransferRecord) error {
	filter := bson.M{"hash": tr.Hash}

	sr := m.col().FindOne(context.Background(), filter)
	if err := sr.Err(); errors.Is(err, mgo.ErrNoDocuments) {
		if _, errIns := m.col().InsertOne(context.Background(), tr); errIns != nil {
			return fmt.Errorf("could not insert transfer in db: %w", errIns)
		}

		return nil
	} else if err != nil {
		return fmt.Errorf("could not insert transfer in db: %w", err)
	}

	return nil
}

// UpdateTransfer sets the status and error message of the transfer identified by hash.
func (m *Mongo) UpdateTransfer(hash, status, errMsg string) error {
	res, err := m.col().UpdateOne(context.Background(),
		bson.M{"hash": hash}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "status", Value: status},
					{Key: "errmsg", Value: errMsg},
					{Key: "updated", Value: time.Now().UTC()},
				},
			},
		})
	if err == nil && res.MatchedCount != 1 {
		err = store.ErrTransferNotFound
	}

	return err
}

// GetTransfer returns the transfer record identified by hash.
func (m *Mongo) GetTransfer(hash string) (tr store.TransferRecord, err error) {
	sr := m.col().FindOne(context.Background(), bson.M{"hash": hash})
	if err = sr.Decode(&tr); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrTransferNotFound
	}

	return
}

// PendingTransfers returns the records of transfers not yet finalized or failed.
func (m *Mongo) PendingTransfers() ([]store.TransferRecord, error) {
	docs, err := m.col().Find(context.Background(), bson.M{"status": store.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("error getting mongo DB object: %w", err)
	}

	trs := []store.TransferRecord{}

	for docs.Next(context.Background()) {
		var tr store.TransferRecord
		if err = bson.Unmarshal(docs.Current, &tr); err == nil {
			trs = append(trs, tr)
		}
	}

	return trs, nil
}
