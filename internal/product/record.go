package product

import "time"

// Availability values.
const (
	InStock    = "in stock"
	OutOfStock = "out of stock"
)

// Currency is reported for every record.
const Currency = "USD"

// VariantAttributes describes a variant by its option values.
type VariantAttributes struct {
	Name  string            `json:"name"`
	Props map[string]string `json:"props"`
}

// OutputRecord is the canonical row emitted per variant.
type OutputRecord struct {
	URL          string         `json:"url"`
	Title        string         `json:"title"`
	ID           string         `json:"id"`
	SKU          string         `json:"sku"`
	Description  string         `json:"description"`
	Color        string         `json:"color"`
	Size         string         `json:"size"`
	Material     string         `json:"material"`
	DisplayName  string         `json:"display_name"`
	Availability string         `json:"availability"`
	Price        *float64       `json:"price"`
	Currency     string         `json:"currency"`
	ProductType  string         `json:"product_type"`
	ImagesURLs   []string       `json:"images_urls"`
	Brand        string         `json:"brand"`
	VideoURLs    []string       `json:"video_urls"`
	CreatedAt    *time.Time     `json:"created_at"`
	UpdatedAt    *time.Time     `json:"updated_at"`
	PublishedAt  *time.Time     `json:"published_at"`
	Additional   map[string]any `json:"additional"`
}

// Map returns the record keyed by its JSON field names, the shape output
// hooks operate on.
func (r OutputRecord) Map() map[string]any {
	additional := make(map[string]any, len(r.Additional))
	for k, v := range r.Additional {
		if attrs, ok := v.(VariantAttributes); ok {
			v = map[string]any{"name": attrs.Name, "props": attrs.Props}
		}
		additional[k] = v
	}
	var price any
	if r.Price != nil {
		price = *r.Price
	}
	return map[string]any{
		"url":          r.URL,
		"title":        r.Title,
		"id":           r.ID,
		"sku":          r.SKU,
		"description":  r.Description,
		"color":        r.Color,
		"size":         r.Size,
		"material":     r.Material,
		"display_name": r.DisplayName,
		"availability": r.Availability,
		"price":        price,
		"currency":     r.Currency,
		"product_type": r.ProductType,
		"images_urls":  r.ImagesURLs,
		"brand":        r.Brand,
		"video_urls":   r.VideoURLs,
		"created_at":   timeValue(r.CreatedAt),
		"updated_at":   timeValue(r.UpdatedAt),
		"published_at": timeValue(r.PublishedAt),
		"additional":   additional,
	}
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
