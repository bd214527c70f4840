package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFields(t *testing.T) {
	t.Parallel()

	url, id := Fields(map[string]any{"url": "https://shop.test/products/a", "id": "42"})
	assert.Equal(t, "https://shop.test/products/a", url)
	assert.Equal(t, "42", id)

	url, id = Fields(Failed(map[string]any{"url": "https://shop.test/products/b.json"}))
	assert.Equal(t, "https://shop.test/products/b.json", url)
	assert.Empty(t, id)

	url, id = Fields("plain string")
	assert.Empty(t, url)
	assert.Empty(t, id)
}
