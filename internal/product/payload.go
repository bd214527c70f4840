package product

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	// ErrNotFound marks a payload for a product that no longer exists.
	// It is a benign skip, not a failure.
	ErrNotFound = errors.New("product not found")
	// ErrMissingCoreFields is returned when no title can be resolved.
	ErrMissingCoreFields = errors.New("product is missing core fields")
	// ErrMalformedPayload is returned when the body is not a product object.
	ErrMalformedPayload = errors.New("malformed product payload")
)

// Decode extracts the product object from a fetched body. It accepts
// {"product": {...}}, {"data": {"product": {...}}} and bare product
// objects, and repairs malformed JSON once before giving up.
func Decode(status int, body []byte) (map[string]any, error) {
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	raw, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	return Unwrap(raw)
}

// Unwrap locates the product object inside an already decoded payload.
func Unwrap(raw any) (map[string]any, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object, got %T", ErrMalformedPayload, raw)
	}
	if notFound(obj) {
		return nil, ErrNotFound
	}
	if data, ok := obj["data"].(map[string]any); ok {
		obj = data
	}
	for _, key := range []string{"product", "productByHandle"} {
		v, present := obj[key]
		if !present {
			continue
		}
		if v == nil {
			return nil, ErrNotFound
		}
		inner, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is %T", ErrMalformedPayload, key, v)
		}
		return inner, nil
	}
	return obj, nil
}

func notFound(obj map[string]any) bool {
	switch e := obj["errors"].(type) {
	case string:
		return strings.EqualFold(strings.TrimSpace(e), "not found")
	case []any:
		for _, item := range e {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if msg, _ := m["message"].(string); strings.Contains(strings.ToLower(msg), "not found") {
				return true
			}
		}
	}
	return false
}

func decodeJSON(body []byte) (any, error) {
	v, err := unmarshal(body)
	if err == nil {
		return v, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(body))
	if repairErr != nil {
		return nil, fmt.Errorf("%w: %v (repair: %v)", ErrMalformedPayload, err, repairErr)
	}
	v, err = unmarshal([]byte(repaired))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return v, nil
}

func unmarshal(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
