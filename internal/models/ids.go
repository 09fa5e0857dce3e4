package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewID builds ids like "CMP-1A2B3C4D".
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.New().String()[:8]))
}
