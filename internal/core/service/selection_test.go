package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rl1809/unit-inventory/internal/core/domain"
)

func TestSelectForDeletion(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	units := []domain.Unit{
		{ID: "newest", Tag: domain.TagFresh, CreatedAt: t0.Add(3 * time.Hour)},
		{ID: "sold-oldest", Tag: domain.TagSold, CreatedAt: t0},
		{ID: "tie-a", Tag: domain.TagReturned, CreatedAt: t0.Add(time.Hour)},
		{ID: "tie-b", Tag: domain.TagDefective, CreatedAt: t0.Add(time.Hour)},
		{ID: "middle", Tag: domain.TagCartHeld, CreatedAt: t0.Add(2 * time.Hour)},
	}

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"none", 0, nil},
		{"oldest first", 2, []string{"tie-a", "tie-b"}},
		{"skips sold", 3, []string{"tie-a", "tie-b", "middle"}},
		{"capped by candidates", 10, []string{"tie-a", "tie-b", "middle", "newest"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectForDeletion(units, tt.n)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, unitIDs(got))
		})
	}
}

func TestSelectForDeletion_DoesNotReorderInput(t *testing.T) {
	t0 := time.Now()
	units := []domain.Unit{
		{ID: "b", Tag: domain.TagFresh, CreatedAt: t0.Add(time.Minute)},
		{ID: "a", Tag: domain.TagFresh, CreatedAt: t0},
	}

	SelectForDeletion(units, 1)
	assert.Equal(t, "b", units[0].ID)
}
