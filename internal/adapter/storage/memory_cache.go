package storage

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/unit-inventory/internal/core/domain"
)

// MemoryCodeCache is the in-process CodeCache. Reservations expire after ttl.
type MemoryCodeCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCodeCache(ttl time.Duration) *MemoryCodeCache {
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	return &MemoryCodeCache{entries: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (c *MemoryCodeCache) Reserve(_ context.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expires, ok := c.entries[code]; ok && now.Before(expires) {
		return false, nil
	}
	c.entries[code] = now.Add(c.ttl)
	return true, nil
}

func (c *MemoryCodeCache) Release(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
	return nil
}

// MemoryCartSource holds cart contents in process.
type MemoryCartSource struct {
	mu       sync.RWMutex
	codes    map[string]map[string]struct{}
	reserved map[string]map[string]decimal.Decimal
}

func NewMemoryCartSource() *MemoryCartSource {
	return &MemoryCartSource{
		codes:    make(map[string]map[string]struct{}),
		reserved: make(map[string]map[string]decimal.Decimal),
	}
}

func (s *MemoryCartSource) Snapshot(_ context.Context, productID string) (domain.CartSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := domain.CartSnapshot{Codes: make(map[string]struct{}), Reserved: decimal.Zero}
	for code := range s.codes[productID] {
		snapshot.Codes[code] = struct{}{}
	}
	for _, qty := range s.reserved[productID] {
		snapshot.AddReserved(qty)
	}
	return snapshot, nil
}

func (s *MemoryCartSource) HoldCode(_ context.Context, productID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes[productID] == nil {
		s.codes[productID] = make(map[string]struct{})
	}
	s.codes[productID][code] = struct{}{}
	return nil
}

func (s *MemoryCartSource) DropCode(_ context.Context, productID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes[productID], code)
	return nil
}

func (s *MemoryCartSource) SetReserved(_ context.Context, productID, cartID string, qty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !qty.IsPositive() {
		delete(s.reserved[productID], cartID)
		return nil
	}
	if s.reserved[productID] == nil {
		s.reserved[productID] = make(map[string]decimal.Decimal)
	}
	s.reserved[productID][cartID] = qty
	return nil
}
