package model

import (
	"strings"

	"github.com/google/uuid"
)

// OptimisticPrefix namespaces locally generated message ids.
const OptimisticPrefix = "optimistic-"

// NewOptimisticID returns a fresh optimistic message id.
func NewOptimisticID() string { return OptimisticPrefix + uuid.NewString() }

// IsOptimisticID reports whether id was generated locally.
func IsOptimisticID(id string) bool { return strings.HasPrefix(id, OptimisticPrefix) }

// NewLocalPartID returns an id for a locally created part.
func NewLocalPartID() string { return "local-" + uuid.NewString() }
