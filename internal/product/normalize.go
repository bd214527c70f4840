// Package product converts raw storefront product payloads into one
// canonical record per variant.
package product

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Clock supplies the scrape timestamp.
type Clock interface {
	Now() time.Time
}

// Normalizer converts product payloads. It is stateless and safe for
// concurrent use.
type Normalizer struct {
	clock Clock
}

// NewNormalizer returns a Normalizer stamping records with clock.
func NewNormalizer(clock Clock) *Normalizer {
	return &Normalizer{clock: clock}
}

var (
	trailingNumber = regexp.MustCompile(`/(\d+)(?:\?.*)?$`)
	defaultOption  = regexp.MustCompile(`(?i)^\s*(default|title|default title)\s*$`)
)

// ReduceID reduces a composite platform identifier such as
// gid://shopify/ProductVariant/123 to its trailing numeric segment. Plain
// identifiers are returned unchanged.
func ReduceID(v any) string {
	s, ok := toString(v)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if m := trailingNumber.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// Normalize returns one record per variant of product. pageURL is the
// product page the payload was fetched for.
func (n *Normalizer) Normalize(product map[string]any, pageURL string) ([]OutputRecord, error) {
	title := coalesceString(product, FieldTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: no title", ErrMissingCoreFields)
	}
	scrapedAt := n.clock.Now().UTC()

	optionNames := OptionNames(product)
	images := indexImages(product)
	defaultImage := defaultImageURL(product)
	videos := VideoURLs(product)
	tags := Tags(Coalesce(product, FieldTags))
	description := Description(coalesceString(product, FieldDescription))
	productType := coalesceString(product, FieldProductType)
	vendor := coalesceString(product, FieldVendor)
	created := ParseTimestamp(Coalesce(product, FieldCreatedAt))
	updated := ParseTimestamp(Coalesce(product, FieldUpdatedAt))
	published := ParseTimestamp(Coalesce(product, FieldPublishedAt))

	variants := coalesceList(product, FieldVariants)
	records := make([]OutputRecord, 0, len(variants))
	for _, raw := range variants {
		variant, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		attrs := Attributes(optionNames, variant)
		variantTitle := coalesceString(variant, FieldVariantTitle)
		variantID := ReduceID(Coalesce(variant, FieldID))

		rec := OutputRecord{
			URL:          pageURL,
			Title:        title,
			ID:           variantID,
			SKU:          coalesceString(variant, FieldSKU),
			Description:  description,
			Color:        firstProp(attrs.Props, "color", "colour"),
			Size:         attrs.Props["size"],
			Material:     attrs.Props["material"],
			DisplayName:  displayName(variant, title, variantTitle),
			Availability: Availability(variant),
			Currency:     Currency,
			ProductType:  productType,
			ImagesURLs:   images.forVariant(variant, variantID, defaultImage),
			Brand:        vendor,
			VideoURLs:    videos,
			CreatedAt:    firstTime(ParseTimestamp(Coalesce(variant, FieldCreatedAt)), created),
			UpdatedAt:    firstTime(ParseTimestamp(Coalesce(variant, FieldUpdatedAt)), updated),
			PublishedAt:  published,
		}
		if price, ok := coalesceFloat(variant, FieldPrice); ok {
			rec.Price = &price
		}
		rec.Additional = additional(variant, attrs, variantTitle, tags, scrapedAt)
		records = append(records, rec)
	}
	return records, nil
}

// Availability applies the stock rule: a non-zero stock count decides by
// sign, otherwise the sale flag decides.
func Availability(variant map[string]any) string {
	if stock, ok := coalesceInt(variant, FieldStockCount); ok && stock != 0 {
		if stock > 0 {
			return InStock
		}
		return OutOfStock
	}
	if available, ok := coalesceBool(variant, FieldAvailable); ok && available {
		return InStock
	}
	return OutOfStock
}

// OptionNames returns the declared option names in slot order.
func OptionNames(product map[string]any) []string {
	var names []string
	for _, o := range coalesceList(product, FieldOptions) {
		switch t := o.(type) {
		case string:
			names = append(names, strings.TrimSpace(t))
		case map[string]any:
			name, _ := toString(t["name"])
			names = append(names, strings.TrimSpace(name))
		}
	}
	return names
}

// Attributes derives the attribute name and props of one variant from up
// to three ordered option slots.
func Attributes(optionNames []string, variant map[string]any) VariantAttributes {
	attrs := VariantAttributes{Props: map[string]string{}}
	if len(optionNames) > 0 && defaultOption.MatchString(optionNames[0]) {
		attrs.Name = "Default"
		return attrs
	}
	selected := selectedOptions(variant)
	var parts []string
	for slot := 0; slot < 3; slot++ {
		name := fmt.Sprintf("Option%d", slot+1)
		if slot < len(optionNames) && optionNames[slot] != "" {
			name = optionNames[slot]
		}
		value, ok := toString(variant[fmt.Sprintf("option%d", slot+1)])
		if !ok || strings.TrimSpace(value) == "" {
			value = selected[strings.ToLower(name)]
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		attrs.Props[strings.ToLower(name)] = value
		parts = append(parts, name+": "+value)
	}
	attrs.Name = strings.Join(parts, " / ")
	if attrs.Name == "" {
		attrs.Name = "Default"
	}
	return attrs
}

func selectedOptions(variant map[string]any) map[string]string {
	out := map[string]string{}
	for _, o := range coalesceList(variant, FieldSelectedOptions) {
		m, ok := o.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toString(m["name"])
		value, _ := toString(m["value"])
		if name != "" {
			out[strings.ToLower(strings.TrimSpace(name))] = value
		}
	}
	return out
}

func firstProp(props map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := props[k]; v != "" {
			return v
		}
	}
	return ""
}

func displayName(variant map[string]any, title, variantTitle string) string {
	if name := coalesceString(variant, FieldDisplayName); name != "" {
		return name
	}
	if variantTitle == "" || defaultOption.MatchString(variantTitle) {
		return title
	}
	return title + " - " + variantTitle
}

var surfacedProps = map[string]bool{"color": true, "colour": true, "size": true, "material": true}

func additional(variant map[string]any, attrs VariantAttributes, variantTitle string, tags []string, scrapedAt time.Time) map[string]any {
	out := map[string]any{
		"variant_attributes": attrs,
		"variant_title":      variantTitle,
		"scraped_at":         scrapedAt.Format(time.RFC3339),
		"barcode":            nilIfEmpty(coalesceString(variant, FieldBarcode)),
		"taxcode":            nilIfEmpty(coalesceString(variant, FieldTaxCode)),
		"stock_count":        nil,
		"tags":               tags,
		"weight":             nil,
		"requires_shipping":  nil,
	}
	if stock, ok := coalesceInt(variant, FieldStockCount); ok {
		out["stock_count"] = stock
	}
	if weight, ok := coalesceFloat(variant, FieldWeight); ok {
		w := formatNumber(weight)
		if unit := coalesceString(variant, FieldWeightUnit); unit != "" {
			w += " " + unit
		}
		out["weight"] = w
	}
	if shipping, ok := coalesceBool(variant, FieldRequiresShipping); ok {
		out["requires_shipping"] = shipping
	}
	for k, v := range attrs.Props {
		if surfacedProps[k] {
			continue
		}
		if _, taken := out[k]; taken {
			continue
		}
		out[k] = v
	}
	return out
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Tags accepts a list or a comma separated string and returns trimmed,
// deduplicated, non-empty tags in first-seen order.
func Tags(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []any:
		for _, e := range t {
			if s, ok := toString(e); ok {
				raw = append(raw, strings.Split(s, ",")...)
			}
		}
	case []string:
		for _, s := range t {
			raw = append(raw, strings.Split(s, ",")...)
		}
	}
	out := []string{}
	seen := make(map[string]struct{}, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a coalesced timestamp into UTC. Missing or
// unparseable values yield nil.
func ParseTimestamp(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Description reduces an HTML description to whitespace-collapsed text.
func Description(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(whitespace.ReplaceAllString(html, " "))
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(doc.Text(), " "))
}
