package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

const (
	defaultCodeRetries        = 5
	defaultShortCounterTries  = 5
	defaultShortRandomRetries = 3

	prefixLength   = 3
	suffixLength   = 6
	dateLayout     = "060102"
	shortKeyPrefix = "short:"
)

// suffixAlphabet drops characters that are easy to misread on a label.
const suffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// IdentifierGenerator builds unit codes of the form PPP-YYMMDD-SSSSSS and the
// short codes derived from them.
type IdentifierGenerator struct {
	cache         port.CodeCache
	now           func() time.Time
	suffix        func() string
	codeRetries   int
	shortRetries  int
	randomRetries int
}

type IdentifierOption func(*IdentifierGenerator)

func WithClock(now func() time.Time) IdentifierOption {
	return func(g *IdentifierGenerator) { g.now = now }
}

// WithSuffixFunc replaces the random suffix source.
func WithSuffixFunc(fn func() string) IdentifierOption {
	return func(g *IdentifierGenerator) { g.suffix = fn }
}

func WithCodeRetries(n int) IdentifierOption {
	return func(g *IdentifierGenerator) {
		if n > 0 {
			g.codeRetries = n
		}
	}
}

// NewIdentifierGenerator returns a generator. cache may be nil, in which case
// only the store is consulted for uniqueness.
func NewIdentifierGenerator(cache port.CodeCache, opts ...IdentifierOption) *IdentifierGenerator {
	g := &IdentifierGenerator{
		cache:         cache,
		now:           time.Now,
		suffix:        randomSuffix,
		codeRetries:   defaultCodeRetries,
		shortRetries:  defaultShortCounterTries,
		randomRetries: defaultShortRandomRetries,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Code returns a globally unique code for a new unit of product. After the
// retry budget is spent it appends a long random token instead.
func (g *IdentifierGenerator) Code(ctx context.Context, lookup port.CodeLookup, product domain.Product) (string, error) {
	base := productPrefix(product) + "-" + g.now().UTC().Format(dateLayout)

	for i := 0; i < g.codeRetries; i++ {
		candidate := base + "-" + g.suffix()
		ok, err := g.claim(ctx, lookup.CodeExists, candidate, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}

	candidate := base + "-" + g.suffix() + "-" + longToken()
	ok, err := g.claim(ctx, lookup.CodeExists, candidate, candidate)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: code for product %s", domain.ErrCodeExhausted, product.ID)
	}
	return candidate, nil
}

// ShortCode derives a short code by dropping the date segment of code. It
// returns "" without error when code does not carry a date segment.
func (g *IdentifierGenerator) ShortCode(ctx context.Context, lookup port.CodeLookup, code string) (string, error) {
	parts := strings.Split(code, "-")
	if len(parts) < 3 || !isDateSegment(parts[1]) {
		return "", nil
	}
	base := strings.Join(append([]string{parts[0]}, parts[2:]...), "-")

	for i := 0; i < g.shortRetries; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i+1)
		}
		ok, err := g.claim(ctx, lookup.ShortCodeExists, candidate, shortKeyPrefix+candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}

	for i := 0; i < g.randomRetries; i++ {
		candidate := base + "-" + g.suffix()
		ok, err := g.claim(ctx, lookup.ShortCodeExists, candidate, shortKeyPrefix+candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: short code for %s", domain.ErrCodeExhausted, code)
}

// claim checks the store and then reserves the candidate in the cache.
func (g *IdentifierGenerator) claim(ctx context.Context, exists func(context.Context, string) (bool, error), candidate, cacheKey string) (bool, error) {
	taken, err := exists(ctx, candidate)
	if err != nil {
		return false, fmt.Errorf("check identifier %s: %w", candidate, err)
	}
	if taken {
		return false, nil
	}
	if g.cache == nil {
		return true, nil
	}

	reserved, err := g.cache.Reserve(ctx, cacheKey)
	if err != nil {
		return false, fmt.Errorf("reserve identifier %s: %w", candidate, err)
	}
	return reserved, nil
}

// release gives back the cache reservations of codes that were never committed.
func (g *IdentifierGenerator) release(ctx context.Context, units []domain.Unit) {
	if g.cache == nil {
		return
	}
	for _, u := range units {
		_ = g.cache.Release(ctx, u.Code)
		if u.ShortCode != "" {
			_ = g.cache.Release(ctx, shortKeyPrefix+u.ShortCode)
		}
	}
}

func productPrefix(p domain.Product) string {
	source := p.SKU
	if source == "" {
		source = p.ID
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(source) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
		if b.Len() == prefixLength {
			break
		}
	}
	for b.Len() < prefixLength {
		b.WriteByte('X')
	}
	return b.String()
}

func isDateSegment(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func randomSuffix() string {
	u := uuid.New()
	b := make([]byte, suffixLength)
	for i := range b {
		b[i] = suffixAlphabet[int(u[i])%len(suffixAlphabet)]
	}
	return string(b)
}

func longToken() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
