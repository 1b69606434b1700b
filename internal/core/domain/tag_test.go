package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTags = []Tag{TagFresh, TagCartHeld, TagSold, TagReturned, TagDefective, TagUnknown}

func TestCanTransition(t *testing.T) {
	allowed := map[Tag][]Tag{
		TagFresh:     {TagCartHeld, TagSold, TagReturned, TagDefective, TagUnknown},
		TagCartHeld:  {TagFresh, TagSold},
		TagReturned:  {TagCartHeld, TagSold, TagDefective, TagUnknown},
		TagSold:      {TagReturned},
		TagDefective: nil,
		TagUnknown:   {TagFresh},
	}

	for _, from := range allTags {
		for _, to := range allTags {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_InvalidTags(t *testing.T) {
	var zero Tag
	assert.False(t, zero.CanTransition(TagFresh))
	assert.False(t, TagFresh.CanTransition(zero))
	assert.False(t, TagFresh.CanTransition(Tag(42)))
}

func TestCounted(t *testing.T) {
	for _, tag := range allTags {
		want := tag == TagFresh || tag == TagReturned
		assert.Equal(t, want, tag.Counted(), tag.String())
	}
}

func TestParseTag(t *testing.T) {
	for _, tag := range allTags {
		parsed, err := ParseTag(tag.String())
		require.NoError(t, err)
		assert.Equal(t, tag, parsed)
	}

	_, err := ParseTag("lost")
	require.ErrorIs(t, err, ErrUnknownTag)

	var validation *ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestTag_JSON(t *testing.T) {
	type payload struct {
		Tag Tag `json:"tag"`
	}

	b, err := json.Marshal(payload{Tag: TagCartHeld})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tag":"cart-held"}`, string(b))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"tag":"returned"}`), &p))
	assert.Equal(t, TagReturned, p.Tag)

	assert.Error(t, json.Unmarshal([]byte(`{"tag":"bogus"}`), &p))

	_, err = json.Marshal(payload{})
	assert.Error(t, err)
}
