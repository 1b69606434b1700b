package storage

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

type stockKey struct {
	productID string
	location  string
}

type memoryState struct {
	products  map[string]domain.Product
	purchases map[string]domain.Purchase
	lines     map[string]domain.PurchaseLine
	units     map[string]domain.Unit
	unitSeq   map[string]uint64
	codes     map[string]string
	shorts    map[string]string
	stock     map[stockKey]domain.StockLevel
	seq       uint64
}

func newMemoryState() memoryState {
	return memoryState{
		products:  map[string]domain.Product{},
		purchases: map[string]domain.Purchase{},
		lines:     map[string]domain.PurchaseLine{},
		units:     map[string]domain.Unit{},
		unitSeq:   map[string]uint64{},
		codes:     map[string]string{},
		shorts:    map[string]string{},
		stock:     map[stockKey]domain.StockLevel{},
	}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		products:  maps.Clone(s.products),
		purchases: maps.Clone(s.purchases),
		lines:     maps.Clone(s.lines),
		units:     maps.Clone(s.units),
		unitSeq:   maps.Clone(s.unitSeq),
		codes:     maps.Clone(s.codes),
		shorts:    maps.Clone(s.shorts),
		stock:     maps.Clone(s.stock),
		seq:       s.seq,
	}
}

// MemoryStore keeps all state in process. A transaction works on a copy that
// replaces the live state only when it succeeds; writers are serialized.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
	now   func() time.Time
}

var _ port.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState(), now: time.Now}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, r port.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, &memoryTx{state: s.state, now: s.now})
}

// SaveProduct creates or replaces a product.
func (s *MemoryStore) SaveProduct(_ context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
	return nil
}

func (s *MemoryStore) SavePurchase(_ context.Context, p domain.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	p.UpdatedAt = s.now().UTC()
	s.state.purchases[p.ID] = p
	return nil
}

func (s *MemoryStore) SavePurchaseLine(_ context.Context, l domain.PurchaseLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.purchases[l.PurchaseID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrPurchaseNotFound, l.PurchaseID)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}
	l.UpdatedAt = s.now().UTC()
	s.state.lines[l.ID] = l
	return nil
}

// memoryTx serves both transactions and read-only views. Views never get a
// value that exposes the mutating methods.
type memoryTx struct {
	state memoryState
	now   func() time.Time
}

func (t *memoryTx) CodeExists(_ context.Context, code string) (bool, error) {
	_, ok := t.state.codes[code]
	return ok, nil
}

func (t *memoryTx) ShortCodeExists(_ context.Context, shortCode string) (bool, error) {
	_, ok := t.state.shorts[shortCode]
	return ok, nil
}

func (t *memoryTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return &p, nil
}

func (t *memoryTx) ListProducts(_ context.Context) ([]domain.Product, error) {
	out := slices.Collect(maps.Values(t.state.products))
	slices.SortFunc(out, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memoryTx) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	p, ok := t.state.purchases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPurchaseNotFound, id)
	}
	return &p, nil
}

func (t *memoryTx) GetPurchaseLine(_ context.Context, id string) (*domain.PurchaseLine, error) {
	l, ok := t.state.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLineNotFound, id)
	}
	return &l, nil
}

func (t *memoryTx) ListPurchaseLines(_ context.Context, purchaseID string) ([]domain.PurchaseLine, error) {
	var out []domain.PurchaseLine
	for _, l := range t.state.lines {
		if l.PurchaseID == purchaseID {
			out = append(out, l)
		}
	}
	sortLines(out)
	return out, nil
}

func (t *memoryTx) ListLinesByProduct(_ context.Context, productID string, status domain.PurchaseStatus) ([]domain.PurchaseLine, error) {
	var out []domain.PurchaseLine
	for _, l := range t.state.lines {
		if l.ProductID != productID {
			continue
		}
		if p, ok := t.state.purchases[l.PurchaseID]; ok && p.Status == status {
			out = append(out, l)
		}
	}
	sortLines(out)
	return out, nil
}

func (t *memoryTx) GetUnitByCode(_ context.Context, code string) (*domain.Unit, error) {
	id, ok := t.state.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnitNotFound, code)
	}
	u := t.state.units[id]
	return &u, nil
}

func (t *memoryTx) ListUnits(_ context.Context, filter domain.UnitFilter) ([]domain.Unit, error) {
	var out []domain.Unit
	for _, u := range t.state.units {
		if t.match(u, filter) {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b domain.Unit) int {
		return cmp.Compare(t.state.unitSeq[a.ID], t.state.unitSeq[b.ID])
	})
	return out, nil
}

func (t *memoryTx) CountUnits(_ context.Context, filter domain.UnitFilter) (int, error) {
	n := 0
	for _, u := range t.state.units {
		if t.match(u, filter) {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) match(u domain.Unit, f domain.UnitFilter) bool {
	if f.ProductID != "" && u.ProductID != f.ProductID {
		return false
	}
	if f.Location != "" && u.Location != f.Location {
		return false
	}
	if f.LineID != "" && u.LineID != f.LineID {
		return false
	}
	if !f.MatchTag(u.Tag) {
		return false
	}
	if f.ExcludeDraft && u.PurchaseID != "" {
		if p, ok := t.state.purchases[u.PurchaseID]; ok && p.Status == domain.PurchaseStatusDraft {
			return false
		}
	}
	return true
}

func (t *memoryTx) GetStock(_ context.Context, productID, location string) (*domain.StockLevel, error) {
	s, ok := t.state.stock[stockKey{productID, location}]
	if !ok {
		s = domain.StockLevel{ProductID: productID, Location: location}
	}
	return &s, nil
}

func (t *memoryTx) ListStock(_ context.Context, productID string) ([]domain.StockLevel, error) {
	var out []domain.StockLevel
	for k, s := range t.state.stock {
		if k.productID == productID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b domain.StockLevel) int { return cmp.Compare(a.Location, b.Location) })
	return out, nil
}

// The whole store is locked for the duration of a transaction, so the Lock
// reads are plain reads.

func (t *memoryTx) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *memoryTx) LockPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return t.GetPurchase(ctx, id)
}

func (t *memoryTx) LockPurchaseLine(ctx context.Context, id string) (*domain.PurchaseLine, error) {
	return t.GetPurchaseLine(ctx, id)
}

func (t *memoryTx) LockUnit(ctx context.Context, code string) (*domain.Unit, error) {
	return t.GetUnitByCode(ctx, code)
}

func (t *memoryTx) LockStock(ctx context.Context, productID, location string) (*domain.StockLevel, error) {
	return t.GetStock(ctx, productID, location)
}

func (t *memoryTx) InsertUnit(_ context.Context, u domain.Unit) error {
	if _, ok := t.state.codes[u.Code]; ok {
		return fmt.Errorf("%w: code %s", ErrDuplicateCode, u.Code)
	}
	if u.ShortCode != "" {
		if _, ok := t.state.shorts[u.ShortCode]; ok {
			return fmt.Errorf("%w: short code %s", ErrDuplicateCode, u.ShortCode)
		}
		t.state.shorts[u.ShortCode] = u.ID
	}
	t.state.seq++
	t.state.units[u.ID] = u
	t.state.unitSeq[u.ID] = t.state.seq
	t.state.codes[u.Code] = u.ID
	return nil
}

func (t *memoryTx) UpdateUnitTag(_ context.Context, unitID string, tag domain.Tag) error {
	u, ok := t.state.units[unitID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnitNotFound, unitID)
	}
	u.Tag = tag
	t.state.units[unitID] = u
	return nil
}

func (t *memoryTx) DeleteUnits(_ context.Context, unitIDs []string) error {
	for _, id := range unitIDs {
		u, ok := t.state.units[id]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnitNotFound, id)
		}
		if u.Tag == domain.TagSold {
			return ErrOptimisticLock
		}
		delete(t.state.units, id)
		delete(t.state.unitSeq, id)
		delete(t.state.codes, u.Code)
		if u.ShortCode != "" {
			delete(t.state.shorts, u.ShortCode)
		}
	}
	return nil
}

func (t *memoryTx) UpdatePurchaseStatus(_ context.Context, id string, status domain.PurchaseStatus) error {
	p, ok := t.state.purchases[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPurchaseNotFound, id)
	}
	p.Status = status
	p.UpdatedAt = t.now().UTC()
	t.state.purchases[id] = p
	return nil
}

func (t *memoryTx) UpdateLineQuantity(_ context.Context, id string, quantity int) error {
	l, ok := t.state.lines[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrLineNotFound, id)
	}
	l.Quantity = quantity
	l.UpdatedAt = t.now().UTC()
	t.state.lines[id] = l
	return nil
}

func (t *memoryTx) SaveStock(_ context.Context, s domain.StockLevel) error {
	key := stockKey{s.ProductID, s.Location}
	if current, ok := t.state.stock[key]; ok && current.Version != s.Version {
		return ErrOptimisticLock
	}
	s.Version++
	s.UpdatedAt = t.now().UTC()
	t.state.stock[key] = s
	return nil
}

func sortLines(lines []domain.PurchaseLine) {
	slices.SortFunc(lines, func(a, b domain.PurchaseLine) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
