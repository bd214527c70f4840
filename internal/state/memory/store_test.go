package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-crawler/internal/state"
)

func TestStoreCopiesValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)

	data := []byte("abc")
	require.NoError(t, s.Save(ctx, "k", data))
	data[0] = 'z'
	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
