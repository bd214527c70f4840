// Package sitemap parses sitemap documents and expands sitemap indexes into
// a deduplicated set of crawl targets.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind tags a sitemap entry.
type Kind string

// Entry kinds.
const (
	// KindLeaf is a <url><loc> entry referencing a content page.
	KindLeaf Kind = "leaf"
	// KindIndex is a <sitemap><loc> entry referencing another sitemap.
	KindIndex Kind = "index"
)

// maxInflatedBytes bounds gzip expansion of a single sitemap.
const maxInflatedBytes = 64 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// Candidate is a URL found in a sitemap document.
type Candidate struct {
	URL  string `json:"url"`
	Kind Kind   `json:"kind"`
}

// Parse returns the <loc> entries of a urlset or sitemapindex document in
// document order. Namespaces are ignored and gzipped bodies are inflated.
func Parse(body []byte) ([]Candidate, error) {
	r, err := reader(body)
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var (
		out   []Candidate
		stack []string
		loc   strings.Builder
		inLoc bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("parse sitemap: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(el.Name.Local)
			stack = append(stack, name)
			if name == "loc" {
				inLoc = true
				loc.Reset()
			}
		case xml.CharData:
			if inLoc {
				loc.Write(el)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if name != "loc" || !inLoc {
				continue
			}
			inLoc = false
			u := strings.TrimSpace(loc.String())
			if u == "" || len(stack) == 0 {
				continue
			}
			switch stack[len(stack)-1] {
			case "url":
				out = append(out, Candidate{URL: u, Kind: KindLeaf})
			case "sitemap":
				out = append(out, Candidate{URL: u, Kind: KindIndex})
			}
		}
	}
	return out, nil
}

func reader(body []byte) (io.Reader, error) {
	if !bytes.HasPrefix(body, gzipMagic) {
		return bytes.NewReader(body), nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzipped sitemap: %w", err)
	}
	return io.LimitReader(zr, maxInflatedBytes), nil
}
