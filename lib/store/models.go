package store

import "time"

// TransferRecord contains the fields of a submitted transfer saved to DB. Amount is kept as a decimal
// string so backends need no 128-bit numeric type.
type TransferRecord struct {
	Hash    string    `json:"hash" bson:"hash"`
	From    string    `json:"from" bson:"from"`
	To      string    `json:"to" bson:"to"`
	Amount  string    `json:"amount" bson:"amount"`
	Nonce   uint64    `json:"nonce" bson:"nonce"`
	Status  string    `json:"status" bson:"status"`
	ErrMsg  string    `json:"errmsg,omitempty" bson:"errmsg,omitempty"`
	Created time.Time `json:"created" bson:"created"`
	Updated time.Time `json:"updated" bson:"updated"`
}
