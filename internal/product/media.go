package product

import (
	"strings"
)

type imageIndex struct {
	byID     map[string]string
	linked   map[string][]string
	unlinked []string
}

func imageURL(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return coalesceString(t, FieldImageURL)
	}
	return ""
}

func indexImages(product map[string]any) imageIndex {
	idx := imageIndex{byID: map[string]string{}, linked: map[string][]string{}}
	for _, raw := range coalesceList(product, FieldImages) {
		u := imageURL(raw)
		if u == "" {
			continue
		}
		img, ok := raw.(map[string]any)
		if !ok {
			idx.unlinked = append(idx.unlinked, u)
			continue
		}
		if id := ReduceID(Coalesce(img, FieldID)); id != "" {
			idx.byID[id] = u
		}
		variantIDs := coalesceList(img, FieldImageVariantIDs)
		if len(variantIDs) == 0 {
			idx.unlinked = append(idx.unlinked, u)
			continue
		}
		for _, vid := range variantIDs {
			if id := ReduceID(vid); id != "" {
				idx.linked[id] = append(idx.linked[id], u)
			}
		}
	}
	return idx
}

func defaultImageURL(product map[string]any) string {
	return imageURL(Coalesce(product, FieldDefaultImage))
}

// forVariant picks the variant-linked image, else every unlinked product
// image, else the default image.
func (idx imageIndex) forVariant(variant map[string]any, variantID, fallback string) []string {
	var picked []string
	if id := ReduceID(Coalesce(variant, FieldImageID)); id != "" {
		if u, ok := idx.byID[id]; ok {
			picked = append(picked, u)
		}
	}
	if len(picked) == 0 {
		if u := coalesceString(variant, FieldVariantImageURL); u != "" {
			picked = append(picked, u)
		}
	}
	if len(picked) == 0 && variantID != "" {
		picked = append(picked, idx.linked[variantID]...)
	}
	if len(picked) == 0 {
		picked = append(picked, idx.unlinked...)
	}
	if len(picked) == 0 && fallback != "" {
		picked = append(picked, fallback)
	}
	return DedupeURLs(picked)
}

// DedupeURLs strips query strings and removes empty and repeated URLs,
// preserving first-seen order.
func DedupeURLs(urls []string) []string {
	out := []string{}
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

var videoMediaTypes = map[string]bool{"video": true, "external_video": true}

// VideoURLs collects the source URLs of video and external video media.
func VideoURLs(product map[string]any) []string {
	out := []string{}
	seen := map[string]struct{}{}
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, raw := range coalesceList(product, FieldMedia) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		kind := strings.ToLower(coalesceString(m, FieldMediaType))
		if !videoMediaTypes[kind] {
			continue
		}
		for _, src := range coalesceList(m, FieldMediaSources) {
			if sm, ok := src.(map[string]any); ok {
				add(coalesceString(sm, FieldImageURL))
			}
		}
		add(coalesceString(m, FieldMediaEmbedURL))
	}
	return out
}
