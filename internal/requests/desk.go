// Package requests creates and lists reservation requests. Creating a request
// never touches stock; that happens only when the approval engine approves it.
package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"lab-booking-api-server/internal/auth"
	"lab-booking-api-server/internal/inventory"
	"lab-booking-api-server/internal/models"
	"lab-booking-api-server/internal/store"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound       = errors.New("request not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// Components resolves component ids at creation time.
type Components interface {
	GetComponent(ctx context.Context, id string) (*models.Component, error)
}

type ItemInput struct {
	ComponentID string `json:"componentId" binding:"required" validate:"required"`
	Quantity    int    `json:"quantity" binding:"required,gt=0" validate:"gt=0"`
}

type BookingInput struct {
	Date             string      `json:"date" binding:"required" validate:"required,datetime=2006-01-02"`
	StartTime        string      `json:"startTime" binding:"required" validate:"required,datetime=15:04"`
	EndTime          string      `json:"endTime" binding:"required" validate:"required,datetime=15:04"`
	Purpose          string      `json:"purpose"`
	CourseCode       string      `json:"courseCode"`
	Topic            string      `json:"topic"`
	NumberOfStudents int         `json:"numberOfStudents" validate:"gte=0"`
	Requirements     string      `json:"requirements"`
	Items            []ItemInput `json:"items" validate:"dive"`
}

type OrderInput struct {
	Items []ItemInput `json:"items" binding:"required" validate:"required,min=1,dive"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	UserID string
	Status models.RequestStatus
	Kind   models.RequestKind
}

type Stats struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
}

type Desk struct {
	store      store.Store
	components Components
	validate   *validator.Validate
	log        *slog.Logger
	now        func() time.Time
}

func NewDesk(s store.Store, components Components, log *slog.Logger) *Desk {
	return &Desk{
		store:      s,
		components: components,
		validate:   validator.New(),
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// resolveItems turns inputs into request items named after the current
// component records. Unknown ids are refused.
func (d *Desk) resolveItems(ctx context.Context, in []ItemInput) ([]models.RequestItem, error) {
	items := make([]models.RequestItem, 0, len(in))
	for _, it := range in {
		c, err := d.components.GetComponent(ctx, it.ComponentID)
		if errors.Is(err, inventory.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown component %q", ErrInvalidRequest, it.ComponentID)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve component %s: %w", it.ComponentID, err)
		}
		items = append(items, models.RequestItem{
			ComponentID:   c.ID,
			ComponentName: c.Name,
			Quantity:      it.Quantity,
		})
	}
	return items, nil
}

func (d *Desk) save(ctx context.Context, r models.ReservationRequest) (*models.ReservationRequest, error) {
	if err := d.store.Put(ctx, models.RequestsCollection, r.ID, r); err != nil {
		return nil, fmt.Errorf("save request: %w", err)
	}
	d.log.Info("request submitted", "id", r.ID, "kind", r.Kind, "user", r.UserID, "items", len(r.Items))
	return &r, nil
}

// CreateBooking submits a pending lab booking. Items are optional.
func (d *Desk) CreateBooking(ctx context.Context, s auth.Session, in BookingInput) (*models.ReservationRequest, error) {
	if err := d.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if in.EndTime <= in.StartTime {
		return nil, fmt.Errorf("%w: endTime must be after startTime", ErrInvalidRequest)
	}
	items, err := d.resolveItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}
	return d.save(ctx, models.ReservationRequest{
		ID:       models.NewID("BKG"),
		Kind:     models.KindBooking,
		UserID:   s.UserID,
		UserName: s.Name,
		Status:   models.StatusPending,
		Items:    items,
		Booking: &models.BookingDetails{
			Date:             in.Date,
			StartTime:        in.StartTime,
			EndTime:          in.EndTime,
			Purpose:          in.Purpose,
			CourseCode:       in.CourseCode,
			Topic:            in.Topic,
			NumberOfStudents: in.NumberOfStudents,
			Requirements:     in.Requirements,
		},
		CreatedAt: d.now(),
	})
}

// CreateOrder submits a pending component order of at least one item.
func (d *Desk) CreateOrder(ctx context.Context, s auth.Session, in OrderInput) (*models.ReservationRequest, error) {
	if err := d.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	items, err := d.resolveItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}
	return d.save(ctx, models.ReservationRequest{
		ID:        models.NewID("ORD"),
		Kind:      models.KindOrder,
		UserID:    s.UserID,
		UserName:  s.Name,
		Status:    models.StatusPending,
		Items:     items,
		CreatedAt: d.now(),
	})
}

func (d *Desk) Get(ctx context.Context, id string) (*models.ReservationRequest, error) {
	var r models.ReservationRequest
	if err := d.store.Get(ctx, models.RequestsCollection, id, &r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// List returns matching requests, newest first.
func (d *Desk) List(ctx context.Context, f Filter) ([]models.ReservationRequest, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Kind != "" {
		filter["kind"] = f.Kind
	}
	out := []models.ReservationRequest{}
	if err := d.store.Find(ctx, models.RequestsCollection, filter, &out); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Stats counts the user's bookings by status.
func (d *Desk) Stats(ctx context.Context, userID string) (Stats, error) {
	bookings, err := d.List(ctx, Filter{UserID: userID, Kind: models.KindBooking})
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(bookings)}
	for _, b := range bookings {
		switch b.Status {
		case models.StatusApproved:
			st.Approved++
		case models.StatusPending:
			st.Pending++
		case models.StatusRejected:
			st.Rejected++
		}
	}
	return st, nil
}
