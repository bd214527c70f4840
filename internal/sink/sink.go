// Package sink defines where output records go once they leave the hook
// pipeline.
package sink

import "context"

// FailedKey is the sole key of the record emitted for a target that
// exhausted its retries.
const FailedKey = "#failed"

// Sink persists output records. Emit may be called concurrently.
type Sink interface {
	Emit(ctx context.Context, item any) error
	Close() error
}

// Failed wraps request debug info into a failure record.
func Failed(info any) map[string]any {
	return map[string]any{FailedKey: info}
}

// Fields extracts the url and id of a record when it is an object.
func Fields(item any) (url, id string) {
	m, ok := item.(map[string]any)
	if !ok {
		return "", ""
	}
	url, _ = m["url"].(string)
	id, _ = m["id"].(string)
	if url == "" {
		if failed, ok := m[FailedKey]; ok {
			if fm, ok := failed.(map[string]any); ok {
				url, _ = fm["url"].(string)
			}
		}
	}
	return url, id
}
