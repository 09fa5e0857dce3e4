// Package store is the document store used by the ledger, the request desk
// and the approval engine. Documents are addressed by collection and string id
// and encoded with BSON regardless of the backend.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNotFound is returned when a document id does not resolve.
	ErrNotFound = errors.New("store: document not found")
	// ErrTransactionConflict is returned once a transaction kept conflicting
	// with concurrent writers after every retry.
	ErrTransactionConflict = errors.New("store: transaction conflict")
)

// Tx is the transaction-scoped view handed to a Transaction callback.
type Tx interface {
	Get(ctx context.Context, collection, id string, out any) error
	Put(ctx context.Context, collection, id string, doc any) error
	Update(ctx context.Context, collection, id string, fields bson.M) error
}

// Store is a document store with multi-document transactions.
type Store interface {
	Tx

	// Find decodes every document of collection whose top-level fields equal
	// the values in filter into out, which must be a pointer to a slice.
	Find(ctx context.Context, collection string, filter bson.M, out any) error

	// Transaction runs fn atomically. fn may be invoked more than once when
	// the backend detects a conflict, so it must not have side effects outside
	// tx, and must use the ctx it receives. Errors returned by fn abort the
	// transaction and are returned unchanged.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Close(ctx context.Context) error
}

const defaultMaxRetries = 10
