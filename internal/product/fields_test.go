package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalescePriority(t *testing.T) {
	t.Parallel()

	both := map[string]any{"created_at": "snake", "createdAt": "camel"}
	assert.Equal(t, "snake", Coalesce(both, FieldCreatedAt))

	camelOnly := map[string]any{"createdAt": "camel"}
	assert.Equal(t, "camel", Coalesce(camelOnly, FieldCreatedAt))

	nullSnake := map[string]any{"created_at": nil, "createdAt": "camel"}
	assert.Equal(t, "camel", Coalesce(nullSnake, FieldCreatedAt))

	assert.Nil(t, Coalesce(map[string]any{}, FieldCreatedAt))
	assert.Nil(t, Coalesce(nil, FieldCreatedAt))
}

func TestCoalesceEveryFieldHasCandidates(t *testing.T) {
	t.Parallel()

	for field, keys := range Fields {
		assert.NotEmpty(t, keys, field)
	}
}

func TestCoalesceNestedPath(t *testing.T) {
	t.Parallel()

	variant := map[string]any{"price": map[string]any{"amount": "12.5"}}
	price, ok := coalesceFloat(variant, FieldPrice)
	assert.True(t, ok)
	assert.InDelta(t, 12.5, price, 0.0001)

	_, ok = coalesceFloat(map[string]any{"price": "free"}, FieldPrice)
	assert.False(t, ok)
}

func TestAsListConnections(t *testing.T) {
	t.Parallel()

	assert.Len(t, asList([]any{1, 2}), 2)
	assert.Len(t, asList(map[string]any{"nodes": []any{1}}), 1)
	assert.Len(t, asList(map[string]any{"edges": []any{map[string]any{"node": 1}, map[string]any{}}}), 1)
	assert.Nil(t, asList("x"))
}
