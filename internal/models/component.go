package models

import (
	"strings"
	"time"
)

const ComponentsCollection = "components"

// Category is the closed set of component categories.
type Category string

const (
	CategorySensor          Category = "sensor"
	CategoryMicrocontroller Category = "microcontroller"
	CategoryActuator        Category = "actuator"
	CategoryOther           Category = "other"
)

// Legacy values still found in older component documents.
var legacyCategories = map[string]bool{
	"labs":                true,
	"labs equipment":      true,
	"projects components": true,
}

// ParseCategory accepts only canonical categories (case-insensitive).
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategorySensor, CategoryMicrocontroller, CategoryActuator, CategoryOther:
		return c, true
	}
	return "", false
}

// MigrateCategory maps a stored category to the closed enumeration. Legacy
// values fall back to the legacy subcategory when it is canonical, else other.
// The second result reports whether anything changed.
func MigrateCategory(stored, subcategory string) (Category, bool) {
	if c, ok := ParseCategory(stored); ok {
		return c, string(c) != stored
	}
	if legacyCategories[strings.ToLower(strings.TrimSpace(stored))] {
		if c, ok := ParseCategory(subcategory); ok && c != CategoryOther {
			return c, true
		}
	}
	return CategoryOther, true
}

// Component là một bản ghi tồn kho có thể đặt trước.
type Component struct {
	ID                string    `bson:"_id" json:"id"`
	Name              string    `bson:"name" json:"name" validate:"required"`
	Category          Category  `bson:"category" json:"category" validate:"oneof=sensor microcontroller actuator other"`
	Subcategory       string    `bson:"subcategory,omitempty" json:"-"`
	Description       string    `bson:"description" json:"description"`
	ImageURL          string    `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	TotalQuantity     int       `bson:"totalQuantity" json:"totalQuantity" validate:"gte=0"`
	AvailableQuantity int       `bson:"availableQuantity" json:"availableQuantity" validate:"gte=0,ltefield=TotalQuantity"`
	CreatedAt         time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time `bson:"updatedAt" json:"updatedAt"`
}
