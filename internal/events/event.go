// Package events carries request decisions to interested parties.
package events

import (
	"context"
	"errors"
	"time"
)

type Type string

const (
	RequestApproved Type = "request.approved"
	RequestRejected Type = "request.rejected"
)

// Event is published after a request decision has been committed.
type Event struct {
	Type      Type      `json:"event"`
	RequestID string    `json:"requestId"`
	Kind      string    `json:"kind"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	DecidedBy string    `json:"decidedBy,omitempty"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
