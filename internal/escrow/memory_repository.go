package escrow

import (
	"context"
	"sync"
	"time"
)

// memoryRepository is an in-memory Repository used in tests.
type memoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*Hold
	byOrder map[string]string
}

// NewMemoryRepository builds an in-memory hold store.
func NewMemoryRepository() Repository {
	return &memoryRepository{byID: make(map[string]*Hold), byOrder: make(map[string]string)}
}

func (r *memoryRepository) Create(_ context.Context, hold Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byOrder[hold.OrderID]; exists {
		return ErrDuplicateOrder
	}
	stored := hold
	r.byID[hold.ID] = &stored
	r.byOrder[hold.OrderID] = hold.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hold, ok := r.byID[id]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	return *hold, nil
}

func (r *memoryRepository) GetByOrder(_ context.Context, orderID string) (Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byOrder[orderID]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	return *r.byID[id], nil
}

func (r *memoryRepository) MarkDisputed(_ context.Context, id, reason string) (Hold, error) {
	return r.transition(id, StatusPending, func(h *Hold) {
		h.Status = StatusDisputed
		h.DisputeReason = reason
	})
}

func (r *memoryRepository) MarkSettled(_ context.Context, id, fromStatus, toStatus, transactionID string, resolvedAt time.Time) (Hold, error) {
	return r.transition(id, fromStatus, func(h *Hold) {
		h.Status = toStatus
		h.SettlementTransactionID = transactionID
		at := resolvedAt.UTC()
		h.ResolvedAt = &at
	})
}

func (r *memoryRepository) transition(id, fromStatus string, apply func(*Hold)) (Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hold, ok := r.byID[id]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	if hold.Status != fromStatus {
		return Hold{}, ErrHoldNotPending
	}
	apply(hold)
	return *hold, nil
}
