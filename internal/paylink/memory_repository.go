package paylink

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]PaymentLink
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]PaymentLink)}
}

func (r *memoryRepository) Create(_ context.Context, link PaymentLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[link.LinkCode]; exists {
		return errors.New("payment link exists")
	}
	r.storage[link.LinkCode] = link
	return nil
}

func (r *memoryRepository) GetByCode(_ context.Context, code string) (PaymentLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.storage[code]
	if !ok {
		return PaymentLink{}, ErrLinkNotFound
	}
	return link, nil
}

func (r *memoryRepository) MarkExpired(_ context.Context, code string) (PaymentLink, error) {
	return r.transition(code, func(link *PaymentLink) {
		link.Status = StatusExpired
	})
}

func (r *memoryRepository) MarkUsed(_ context.Context, code, payerAccountID, transactionID string, paidAt time.Time) (PaymentLink, error) {
	return r.transition(code, func(link *PaymentLink) {
		link.Status = StatusUsed
		link.PaidByAccountID = payerAccountID
		link.SettlementTransactionID = transactionID
		at := paidAt.UTC()
		link.PaidAt = &at
	})
}

func (r *memoryRepository) MarkCancelled(_ context.Context, code string) (PaymentLink, error) {
	return r.transition(code, func(link *PaymentLink) {
		link.Status = StatusCancelled
	})
}

func (r *memoryRepository) ExpireStale(_ context.Context, createdBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired int64
	for code, link := range r.storage {
		if link.Status == StatusActive && link.CreatedAt.Before(createdBefore) {
			link.Status = StatusExpired
			r.storage[code] = link
			expired++
		}
	}
	return expired, nil
}

func (r *memoryRepository) transition(code string, apply func(*PaymentLink)) (PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.storage[code]
	if !ok {
		return PaymentLink{}, ErrLinkNotFound
	}
	if link.Status != StatusActive {
		return PaymentLink{}, ErrLinkNotActive
	}
	apply(&link)
	r.storage[code] = link
	return link, nil
}
