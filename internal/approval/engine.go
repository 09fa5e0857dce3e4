// Package approval decides pending reservation requests. Approving a request
// checks every requested component and deducts stock in the same store
// transaction as the status change, so either all of it commits or none.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lab-booking-api-server/internal/events"
	"lab-booking-api-server/internal/models"
	"lab-booking-api-server/internal/store"

	"go.mongodb.org/mongo-driver/bson"
)

type Engine struct {
	store     store.Store
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
}

func NewEngine(s store.Store, publisher events.Publisher, log *slog.Logger) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Engine{
		store:     s,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type deduction struct {
	componentID string
	remaining   int
}

// checkStock reads every referenced component and returns the deductions to
// apply, or the full list of shortages. Items naming the same component draw
// on one running remainder.
func checkStock(ctx context.Context, tx store.Tx, items []models.RequestItem) ([]deduction, []string, error) {
	remaining := make(map[string]int)
	names := make(map[string]string)
	var order []string
	var missing []string

	for _, item := range items {
		id := item.ComponentID
		if _, seen := remaining[id]; !seen {
			var c models.Component
			err := tx.Get(ctx, models.ComponentsCollection, id, &c)
			if errors.Is(err, store.ErrNotFound) {
				missing = append(missing, fmt.Sprintf("%s (Not Found)", displayName(item.ComponentName, id)))
				continue
			}
			if err != nil {
				return nil, nil, fmt.Errorf("read component %s: %w", id, err)
			}
			remaining[id] = c.AvailableQuantity
			names[id] = displayName(c.Name, displayName(item.ComponentName, id))
			order = append(order, id)
		}

		left := remaining[id]
		switch {
		case item.Quantity <= 0:
			missing = append(missing, fmt.Sprintf("%s (Invalid quantity: %d)", names[id], item.Quantity))
		case item.Quantity > left:
			missing = append(missing, fmt.Sprintf("%s (Requested: %d, Available: %d)", names[id], item.Quantity, left))
		default:
			remaining[id] = left - item.Quantity
		}
	}

	if len(missing) > 0 {
		return nil, missing, nil
	}
	deductions := make([]deduction, 0, len(order))
	for _, id := range order {
		deductions = append(deductions, deduction{componentID: id, remaining: remaining[id]})
	}
	return deductions, nil, nil
}

func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// Approve validates stock for every item of the request and, when all of it
// is available, deducts it and marks the request approved in one transaction.
// Approving an already approved request succeeds without touching stock.
func (e *Engine) Approve(ctx context.Context, requestID, approverID string) (Result, error) {
	var req models.ReservationRequest
	var already bool

	err := e.store.Transaction(ctx, func(ctx context.Context, tx store.Tx) error {
		req = models.ReservationRequest{}
		already = false

		if err := tx.Get(ctx, models.RequestsCollection, requestID, &req); err != nil {
			return err
		}
		switch req.Status {
		case models.StatusApproved:
			already = true
			return nil
		case models.StatusRejected:
			return errAlreadyFinalized
		}

		deductions, missing, err := checkStock(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &shortageError{items: missing}
		}

		now := e.now()
		for _, d := range deductions {
			fields := bson.M{"availableQuantity": d.remaining, "updatedAt": now}
			if err := tx.Update(ctx, models.ComponentsCollection, d.componentID, fields); err != nil {
				return fmt.Errorf("deduct component %s: %w", d.componentID, err)
			}
		}
		return tx.Update(ctx, models.RequestsCollection, requestID, bson.M{
			"status":    models.StatusApproved,
			"decidedAt": now,
			"decidedBy": approverID,
		})
	})
	if err != nil {
		return e.failure(requestID, req.Status, err)
	}

	if already {
		e.log.Info("request already approved", "request", requestID)
		return Result{Success: true, Status: models.StatusApproved}, nil
	}
	e.log.Info("request approved", "request", requestID, "items", len(req.Items), "by", approverID)
	e.publish(ctx, events.RequestApproved, req, models.StatusApproved, approverID)
	return Result{Success: true, Status: models.StatusApproved}, nil
}

// Reject marks a request rejected. It never touches components. Rejecting a
// rejected request succeeds; rejecting an approved one is refused because its
// stock has already been deducted.
func (e *Engine) Reject(ctx context.Context, requestID, approverID string) (Result, error) {
	var req models.ReservationRequest
	var already bool

	err := e.store.Transaction(ctx, func(ctx context.Context, tx store.Tx) error {
		req = models.ReservationRequest{}
		already = false

		if err := tx.Get(ctx, models.RequestsCollection, requestID, &req); err != nil {
			return err
		}
		switch req.Status {
		case models.StatusRejected:
			already = true
			return nil
		case models.StatusApproved:
			return errAlreadyFinalized
		}
		return tx.Update(ctx, models.RequestsCollection, requestID, bson.M{
			"status":    models.StatusRejected,
			"decidedAt": e.now(),
			"decidedBy": approverID,
		})
	})
	if err != nil {
		return e.failure(requestID, req.Status, err)
	}

	if !already {
		e.log.Info("request rejected", "request", requestID, "by", approverID)
		e.publish(ctx, events.RequestRejected, req, models.StatusRejected, approverID)
	}
	return Result{Success: true, Status: models.StatusRejected}, nil
}

// SetStatus moves a request to the target status through Approve or Reject.
func (e *Engine) SetStatus(ctx context.Context, requestID string, target models.RequestStatus, approverID string) (Result, error) {
	switch target {
	case models.StatusApproved:
		return e.Approve(ctx, requestID, approverID)
	case models.StatusRejected:
		return e.Reject(ctx, requestID, approverID)
	default:
		return Result{Success: false, Error: "Invalid status", Code: CodeInvalidStatus}, nil
	}
}

// failure classifies a transaction error. Expected outcomes come back as a
// Result only; store failures also return an *Error.
func (e *Engine) failure(requestID string, current models.RequestStatus, err error) (Result, error) {
	var shortage *shortageError
	switch {
	case errors.As(err, &shortage):
		e.log.Info("approval refused: stock shortage", "request", requestID, "missing", shortage.items)
		return Result{Success: false, Error: "Stock shortage", Code: CodeStockShortage, MissingItems: shortage.items}, nil
	case errors.Is(err, store.ErrNotFound):
		return Result{Success: false, Error: "Request not found", Code: CodeNotFound}, nil
	case errors.Is(err, errAlreadyFinalized):
		return Result{Success: false, Error: "Request already finalized", Code: CodeAlreadyFinalized, Status: current}, nil
	case errors.Is(err, store.ErrTransactionConflict):
		e.log.Warn("decision failed: transaction conflict", "request", requestID, "err", err)
		return Result{Success: false, Error: "Transaction failed, please retry", Code: CodeTransactionConflict},
			&Error{Code: CodeTransactionConflict, Err: err}
	default:
		e.log.Error("decision failed", "request", requestID, "err", err)
		return Result{Success: false, Error: err.Error(), Code: CodeUnknown}, &Error{Code: CodeUnknown, Err: err}
	}
}

func (e *Engine) publish(ctx context.Context, typ events.Type, req models.ReservationRequest, status models.RequestStatus, by string) {
	ev := events.Event{
		Type:      typ,
		RequestID: req.ID,
		Kind:      string(req.Kind),
		UserID:    req.UserID,
		Status:    string(status),
		DecidedBy: by,
		At:        e.now(),
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.Warn("failed to publish request event", "request", req.ID, "event", typ, "err", err)
	}
}
