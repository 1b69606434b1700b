package domain

import "time"

// Unit is one physical item, or the single placeholder of an untracked product.
type Unit struct {
	ID         string
	Code       string
	ShortCode  string // empty when no short code could be derived
	Tag        Tag
	ProductID  string
	Location   string
	LineID     string // empty for units minted by stock adjustments
	PurchaseID string
	CreatedAt  time.Time
}

// UnitFilter selects units for counting and listing. Empty fields match anything.
type UnitFilter struct {
	ProductID string
	Location  string
	LineID    string
	Tags      []Tag
	// ExcludeDraft drops units whose purchase header is still a draft.
	ExcludeDraft bool
}

func (f UnitFilter) MatchTag(t Tag) bool {
	if len(f.Tags) == 0 {
		return true
	}
	for _, tag := range f.Tags {
		if tag == t {
			return true
		}
	}
	return false
}
