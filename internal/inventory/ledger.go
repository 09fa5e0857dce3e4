// Package inventory is the stock ledger: the source of truth for component
// quantities. Every write goes through one validated mutator that keeps
// 0 <= availableQuantity <= totalQuantity and a canonical category.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lab-booking-api-server/internal/models"
	"lab-booking-api-server/internal/store"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound         = errors.New("component not found")
	ErrInvalidComponent = errors.New("invalid component")
	ErrInvalidQuantity  = errors.New("invalid quantity")
)

// NewComponent is the input of AddComponent.
type NewComponent struct {
	Name          string `json:"name" binding:"required"`
	Category      string `json:"category" binding:"required"`
	Description   string `json:"description"`
	TotalQuantity int    `json:"totalQuantity" binding:"gte=0"`
}

// ComponentPatch lists the fields UpdateComponent may change. Nil fields are left alone.
type ComponentPatch struct {
	Name              *string `json:"name"`
	Category          *string `json:"category"`
	Description       *string `json:"description"`
	TotalQuantity     *int    `json:"totalQuantity"`
	AvailableQuantity *int    `json:"availableQuantity"`
}

type Ledger struct {
	store    store.Store
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

func NewLedger(s store.Store, log *slog.Logger) *Ledger {
	return &Ledger{
		store:    s,
		validate: validator.New(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// check is the single validation gate for component state.
func (l *Ledger) check(c *models.Component) error {
	if err := l.validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidComponent, err)
	}
	return nil
}

func parseCategory(s string) (models.Category, error) {
	c, ok := models.ParseCategory(s)
	if !ok {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidComponent, s)
	}
	return c, nil
}

func migrate(c *models.Component) bool {
	cat, changed := models.MigrateCategory(string(c.Category), c.Subcategory)
	c.Category = cat
	return changed
}

// AddComponent creates a component whose whole stock starts out available.
func (l *Ledger) AddComponent(ctx context.Context, in NewComponent) (*models.Component, error) {
	cat, err := parseCategory(in.Category)
	if err != nil {
		return nil, err
	}
	now := l.now()
	c := models.Component{
		ID:                models.NewID("CMP"),
		Name:              strings.TrimSpace(in.Name),
		Category:          cat,
		Description:       in.Description,
		TotalQuantity:     in.TotalQuantity,
		AvailableQuantity: in.TotalQuantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.check(&c); err != nil {
		return nil, err
	}
	if err := l.store.Put(ctx, models.ComponentsCollection, c.ID, c); err != nil {
		return nil, fmt.Errorf("save component: %w", err)
	}
	l.log.Info("component added", "id", c.ID, "name", c.Name, "total", c.TotalQuantity)
	return &c, nil
}

// mutate loads a component inside a transaction, lets apply change it, validates
// the result and writes back only the fields apply reported.
func (l *Ledger) mutate(ctx context.Context, id string, apply func(c *models.Component) (bson.M, error)) (*models.Component, error) {
	var out models.Component
	err := l.store.Transaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var c models.Component
		if err := tx.Get(ctx, models.ComponentsCollection, id, &c); err != nil {
			return err
		}
		migrated := migrate(&c)
		fields, err := apply(&c)
		if err != nil {
			return err
		}
		if err := l.check(&c); err != nil {
			return err
		}
		if migrated {
			fields["category"] = c.Category
		}
		c.UpdatedAt = l.now()
		fields["updatedAt"] = c.UpdatedAt
		out = c
		return tx.Update(ctx, models.ComponentsCollection, id, fields)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateComponent applies an administrative patch. It refuses any result with
// negative quantities, more available than total, or a non-canonical category.
func (l *Ledger) UpdateComponent(ctx context.Context, id string, patch ComponentPatch) (*models.Component, error) {
	c, err := l.mutate(ctx, id, func(c *models.Component) (bson.M, error) {
		fields := bson.M{}
		if patch.Name != nil {
			c.Name = strings.TrimSpace(*patch.Name)
			fields["name"] = c.Name
		}
		if patch.Category != nil {
			cat, err := parseCategory(*patch.Category)
			if err != nil {
				return nil, err
			}
			c.Category = cat
			fields["category"] = cat
		}
		if patch.Description != nil {
			c.Description = *patch.Description
			fields["description"] = c.Description
		}
		if patch.TotalQuantity != nil {
			c.TotalQuantity = *patch.TotalQuantity
			fields["totalQuantity"] = c.TotalQuantity
		}
		if patch.AvailableQuantity != nil {
			c.AvailableQuantity = *patch.AvailableQuantity
			fields["availableQuantity"] = c.AvailableQuantity
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: nothing to update", ErrInvalidComponent)
		}
		return fields, nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("component updated", "id", id)
	return c, nil
}

// Restock returns quantity units to the available pool, never beyond total.
func (l *Ledger) Restock(ctx context.Context, id string, quantity int) (*models.Component, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: restock quantity must be positive", ErrInvalidQuantity)
	}
	c, err := l.mutate(ctx, id, func(c *models.Component) (bson.M, error) {
		if c.AvailableQuantity+quantity > c.TotalQuantity {
			return nil, fmt.Errorf("%w: restocking %d would exceed total %d (available %d)",
				ErrInvalidQuantity, quantity, c.TotalQuantity, c.AvailableQuantity)
		}
		c.AvailableQuantity += quantity
		return bson.M{"availableQuantity": c.AvailableQuantity}, nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("component restocked", "id", id, "quantity", quantity, "available", c.AvailableQuantity)
	return c, nil
}

// SetImage records the public URL of an uploaded component picture.
func (l *Ledger) SetImage(ctx context.Context, id, url string) (*models.Component, error) {
	return l.mutate(ctx, id, func(c *models.Component) (bson.M, error) {
		c.ImageURL = url
		return bson.M{"imageUrl": url}, nil
	})
}

func (l *Ledger) GetComponent(ctx context.Context, id string) (*models.Component, error) {
	var c models.Component
	if err := l.store.Get(ctx, models.ComponentsCollection, id, &c); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	migrate(&c)
	return &c, nil
}

func (l *Ledger) ListComponents(ctx context.Context) ([]models.Component, error) {
	var components []models.Component
	if err := l.store.Find(ctx, models.ComponentsCollection, nil, &components); err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	for i := range components {
		migrate(&components[i])
	}
	if components == nil {
		components = []models.Component{}
	}
	return components, nil
}

// SearchComponents is a full scan matching text case-insensitively against
// name or category. An empty text returns everything.
func (l *Ledger) SearchComponents(ctx context.Context, text string) ([]models.Component, error) {
	components, err := l.ListComponents(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return components, nil
	}
	matched := []models.Component{}
	for _, c := range components {
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(string(c.Category), q) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// MigrateCategories rewrites stored components whose category is not canonical.
func (l *Ledger) MigrateCategories(ctx context.Context) (int, error) {
	var components []models.Component
	if err := l.store.Find(ctx, models.ComponentsCollection, nil, &components); err != nil {
		return 0, fmt.Errorf("list components: %w", err)
	}
	migrated := 0
	for _, c := range components {
		from := c.Category
		if !migrate(&c) {
			continue
		}
		if err := l.store.Update(ctx, models.ComponentsCollection, c.ID, bson.M{"category": c.Category}); err != nil {
			return migrated, fmt.Errorf("migrate component %s: %w", c.ID, err)
		}
		l.log.Info("component category migrated", "id", c.ID, "from", from, "to", c.Category)
		migrated++
	}
	return migrated, nil
}
