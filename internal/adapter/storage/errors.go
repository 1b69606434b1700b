package storage

import "github.com/rl1809/unit-inventory/internal/core/domain"

var (
	ErrOptimisticLock = &domain.ConflictError{Reason: "optimistic lock conflict"}
	ErrDuplicateCode  = &domain.ConflictError{Reason: "duplicate unit identifier"}
)
