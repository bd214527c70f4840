package sitemap

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURLSet(t *testing.T) {
	t.Parallel()

	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9" xmlns:image="http://www.google.com/schemas/sitemap-image/1.1">
  <url><loc>https://shop.example/</loc><changefreq>daily</changefreq></url>
  <url>
    <loc>
      https://shop.example/products/shirt
    </loc>
    <image:image><image:loc>https://cdn.example/shirt.jpg</image:loc></image:image>
  </url>
  <url><loc>https://shop.example/products/hat</loc></url>
</urlset>`)

	got, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{URL: "https://shop.example/", Kind: KindLeaf},
		{URL: "https://shop.example/products/shirt", Kind: KindLeaf},
		{URL: "https://shop.example/products/hat", Kind: KindLeaf},
	}, got)
}

func TestParseSitemapIndex(t *testing.T) {
	t.Parallel()

	body := []byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://shop.example/sitemap_products_1.xml?from=1&amp;to=99</loc></sitemap>
  <sitemap><loc>https://shop.example/sitemap_pages_1.xml</loc><lastmod>2024-01-15</lastmod></sitemap>
</sitemapindex>`)

	got, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{URL: "https://shop.example/sitemap_products_1.xml?from=1&to=99", Kind: KindIndex},
		{URL: "https://shop.example/sitemap_pages_1.xml", Kind: KindIndex},
	}, got)
}

func TestParseGzip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`<urlset><url><loc>https://shop.example/products/a</loc></url></urlset>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{URL: "https://shop.example/products/a", Kind: KindLeaf}}, got)
}

func TestParseEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	got, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Parse([]byte{0x1f, 0x8b, 0x00})
	assert.Error(t, err)
}
