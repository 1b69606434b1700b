package domain

import "fmt"

// Tag is the state of a unit. The zero value is not a valid tag.
type Tag uint8

const (
	TagFresh Tag = iota + 1
	TagCartHeld
	TagSold
	TagReturned
	TagDefective
	TagUnknown
)

var tagNames = map[Tag]string{
	TagFresh:     "fresh",
	TagCartHeld:  "cart-held",
	TagSold:      "sold",
	TagReturned:  "returned",
	TagDefective: "defective",
	TagUnknown:   "unknown",
}

// transitions lists every legal move. Anything absent is rejected.
var transitions = map[Tag][]Tag{
	TagFresh:     {TagCartHeld, TagSold, TagReturned, TagDefective, TagUnknown},
	TagCartHeld:  {TagFresh, TagSold},
	TagReturned:  {TagCartHeld, TagSold, TagDefective, TagUnknown},
	TagSold:      {TagReturned},
	TagDefective: {},
	TagUnknown:   {TagFresh},
}

// CountedTags are the tags that make up on-hand stock.
var CountedTags = []Tag{TagFresh, TagReturned}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

func (t Tag) Valid() bool {
	_, ok := tagNames[t]
	return ok
}

// Counted reports whether a unit with this tag contributes to on-hand stock.
func (t Tag) Counted() bool {
	return t == TagFresh || t == TagReturned
}

// CanTransition reports whether the table allows moving from t to next.
func (t Tag) CanTransition(next Tag) bool {
	for _, allowed := range transitions[t] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseTag converts the persisted or wire name of a tag.
func ParseTag(s string) (Tag, error) {
	for tag, name := range tagNames {
		if name == s {
			return tag, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTag, s)
}

// MarshalText lets tags travel as their names in JSON and SQL drivers.
func (t Tag) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Tag) UnmarshalText(b []byte) error {
	parsed, err := ParseTag(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
