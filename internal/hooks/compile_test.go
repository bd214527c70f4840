package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileEmptySourceIsNoop(t *testing.T) {
	t.Parallel()

	scraper, err := CompileScraper("   ")
	require.NoError(t, err)
	require.NoError(t, scraper.Call(context.Background(), newContext(LabelSetup, nil, nil)))

	output, err := CompileOutput("")
	require.NoError(t, err)
	item := map[string]any{"title": "Shirt"}
	out, err := output.Transform(context.Background(), newContext(LabelOutput, nil, nil), nil, item)
	require.NoError(t, err)
	assert.Equal(t, item, out)
}

func TestCompileRejectsInvalidSource(t *testing.T) {
	t.Parallel()

	_, err := CompileOutput(`merge(item, {"a": `)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "output", ce.Kind)

	_, err = CompileScraper(`label == `)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "scraper", ce.Kind)
}

func TestCompileResolvesRegisteredCallbacks(t *testing.T) {
	t.Parallel()

	called := false
	RegisterScraper("compile-test-scraper", ScraperFunc(func(context.Context, *Context) error {
		called = true
		return nil
	}))
	RegisterOutput("compile-test-output", OutputFunc(func(_ context.Context, _ *Context, _ any, item map[string]any) (any, error) {
		return Merge(item, map[string]any{"brand": "House"}), nil
	}))

	scraper, err := CompileScraper("@compile-test-scraper")
	require.NoError(t, err)
	require.NoError(t, scraper.Call(context.Background(), newContext(LabelRun, nil, nil)))
	assert.True(t, called)

	output, err := CompileOutput(" @compile-test-output ")
	require.NoError(t, err)
	out, err := output.Transform(context.Background(), newContext(LabelOutput, nil, nil), nil, map[string]any{"title": "Hat"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Hat", "brand": "House"}, out)

	scraperNames, outputNames := Registered()
	assert.Contains(t, scraperNames, "compile-test-scraper")
	assert.Contains(t, outputNames, "compile-test-output")
}

func TestCompileUnknownRegisteredName(t *testing.T) {
	t.Parallel()

	_, err := CompileScraper("@does-not-exist")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))

	_, err = CompileOutput("@does-not-exist")
	require.True(t, errors.As(err, &ce))
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	hook := ScraperFunc(func(context.Context, *Context) error { return nil })
	RegisterScraper("compile-test-duplicate", hook)
	assert.Panics(t, func() { RegisterScraper("compile-test-duplicate", hook) })
	assert.Panics(t, func() { RegisterOutput("", nil) })
}

func TestMergeAndStripQuery(t *testing.T) {
	t.Parallel()

	got := Merge(map[string]any{"a": 1, "b": 2}, "ignored", map[string]any{"b": 3})
	assert.Equal(t, map[string]any{"a": 1, "b": 3}, got)
	assert.Equal(t, "https://cdn.example/a.jpg", StripQuery("https://cdn.example/a.jpg?v=12#x"))
}
