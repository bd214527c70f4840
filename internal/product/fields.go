package product

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Field names a semantic product or variant attribute.
type Field string

// Semantic fields resolved through the Fields table.
const (
	FieldTitle            Field = "title"
	FieldHandle           Field = "handle"
	FieldDescription      Field = "description"
	FieldProductType      Field = "product_type"
	FieldVendor           Field = "vendor"
	FieldTags             Field = "tags"
	FieldCreatedAt        Field = "created_at"
	FieldUpdatedAt        Field = "updated_at"
	FieldPublishedAt      Field = "published_at"
	FieldOptions          Field = "options"
	FieldVariants         Field = "variants"
	FieldImages           Field = "images"
	FieldDefaultImage     Field = "default_image"
	FieldMedia            Field = "media"
	FieldID               Field = "id"
	FieldSKU              Field = "sku"
	FieldVariantTitle     Field = "variant_title"
	FieldDisplayName      Field = "display_name"
	FieldPrice            Field = "price"
	FieldStockCount       Field = "stock_count"
	FieldAvailable        Field = "available"
	FieldWeight           Field = "weight"
	FieldWeightUnit       Field = "weight_unit"
	FieldRequiresShipping Field = "requires_shipping"
	FieldBarcode          Field = "barcode"
	FieldTaxCode          Field = "taxcode"
	FieldImageID          Field = "image_id"
	FieldVariantImageURL  Field = "variant_image_url"
	FieldImageURL         Field = "image_url"
	FieldImageVariantIDs  Field = "image_variant_ids"
	FieldSelectedOptions  Field = "selected_options"
	FieldMediaType        Field = "media_type"
	FieldMediaSources     Field = "media_sources"
	FieldMediaEmbedURL    Field = "media_embed_url"
)

// Fields lists the raw keys probed for each semantic field, highest
// priority first. Dotted keys descend into nested objects. New naming
// conventions are added here.
var Fields = map[Field][]string{
	FieldTitle:            {"title", "name"},
	FieldHandle:           {"handle"},
	FieldDescription:      {"body_html", "bodyHtml", "descriptionHtml", "description"},
	FieldProductType:      {"product_type", "productType", "type"},
	FieldVendor:           {"vendor", "brand"},
	FieldTags:             {"tags"},
	FieldCreatedAt:        {"created_at", "createdAt"},
	FieldUpdatedAt:        {"updated_at", "updatedAt"},
	FieldPublishedAt:      {"published_at", "publishedAt"},
	FieldOptions:          {"options"},
	FieldVariants:         {"variants"},
	FieldImages:           {"images"},
	FieldDefaultImage:     {"image", "featured_image", "featuredImage"},
	FieldMedia:            {"media"},
	FieldID:               {"id"},
	FieldSKU:              {"sku"},
	FieldVariantTitle:     {"title", "public_title", "publicTitle"},
	FieldDisplayName:      {"name", "displayName"},
	FieldPrice:            {"price", "price.amount", "priceV2.amount"},
	FieldStockCount:       {"inventory_quantity", "inventoryQuantity", "quantityAvailable"},
	FieldAvailable:        {"available", "availableForSale"},
	FieldWeight:           {"weight"},
	FieldWeightUnit:       {"weight_unit", "weightUnit"},
	FieldRequiresShipping: {"requires_shipping", "requiresShipping"},
	FieldBarcode:          {"barcode"},
	FieldTaxCode:          {"tax_code", "taxCode"},
	FieldImageID:          {"image_id", "imageId", "image.id", "featured_image.id"},
	FieldVariantImageURL:  {"featured_image.src", "image.src", "image.url"},
	FieldImageURL:         {"src", "url", "originalSrc"},
	FieldImageVariantIDs:  {"variant_ids", "variantIds"},
	FieldSelectedOptions:  {"selectedOptions", "selected_options"},
	FieldMediaType:        {"media_type", "mediaContentType"},
	FieldMediaSources:     {"sources"},
	FieldMediaEmbedURL:    {"embed_url", "embedUrl", "embeddedUrl", "originUrl"},
}

// Coalesce returns the first non-null value found for field, or nil.
func Coalesce(obj map[string]any, field Field) any {
	return coalesceWhere(obj, field, func(any) bool { return true })
}

func coalesceWhere(obj map[string]any, field Field, accept func(any) bool) any {
	if obj == nil {
		return nil
	}
	for _, key := range Fields[field] {
		if v := lookup(obj, key); v != nil && accept(v) {
			return v
		}
	}
	return nil
}

func lookup(obj map[string]any, path string) any {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func coalesceString(obj map[string]any, field Field) string {
	v := coalesceWhere(obj, field, func(v any) bool {
		s, ok := toString(v)
		return ok && strings.TrimSpace(s) != ""
	})
	s, _ := toString(v)
	return strings.TrimSpace(s)
}

func coalesceFloat(obj map[string]any, field Field) (float64, bool) {
	v := coalesceWhere(obj, field, func(v any) bool {
		_, ok := toFloat(v)
		return ok
	})
	return toFloat(v)
}

func coalesceInt(obj map[string]any, field Field) (int64, bool) {
	f, ok := coalesceFloat(obj, field)
	if !ok {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}

func coalesceBool(obj map[string]any, field Field) (bool, bool) {
	v := coalesceWhere(obj, field, func(v any) bool {
		_, ok := toBool(v)
		return ok
	})
	return toBool(v)
}

func coalesceMap(obj map[string]any, field Field) map[string]any {
	m, _ := coalesceWhere(obj, field, func(v any) bool {
		_, ok := v.(map[string]any)
		return ok
	}).(map[string]any)
	return m
}

func coalesceList(obj map[string]any, field Field) []any {
	v := coalesceWhere(obj, field, func(v any) bool { return asList(v) != nil })
	return asList(v)
}

// asList accepts plain arrays and GraphQL connections ({edges:[{node}]}
// or {nodes:[...]}).
func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		if nodes, ok := t["nodes"].([]any); ok {
			return nodes
		}
		edges, ok := t["edges"].([]any)
		if !ok {
			return nil
		}
		out := make([]any, 0, len(edges))
		for _, e := range edges {
			if em, ok := e.(map[string]any); ok && em["node"] != nil {
				out = append(out, em["node"])
			}
		}
		return out
	}
	return nil
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
