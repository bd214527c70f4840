package hooks

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/metrics"
)

// MapFunc is the built-in map step. It expands one raw payload into zero or
// more candidate records.
type MapFunc func(ctx context.Context, data any) ([]map[string]any, error)

// FilterFunc is the built-in filter step.
type FilterFunc func(item map[string]any) bool

// EmitFunc receives every record that survives the pipeline.
type EmitFunc func(ctx context.Context, item any) error

// Pipeline runs map, filter, the user output hook and emit for each raw
// payload. It holds no per-call state and is safe for concurrent use.
type Pipeline struct {
	mapFn  MapFunc
	filter FilterFunc
	hook   OutputHook
	emit   EmitFunc
	custom map[string]any
	logger *zap.Logger
}

// PipelineOptions configures a Pipeline. Map and Emit are required.
type PipelineOptions struct {
	Map        MapFunc
	Filter     FilterFunc
	Hook       OutputHook
	Emit       EmitFunc
	CustomData map[string]any
	Logger     *zap.Logger
}

// NewPipeline validates opts. A nil Hook passes candidates through.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Map == nil || opts.Emit == nil {
		return nil, errors.New("pipeline requires map and emit steps")
	}
	hook := opts.Hook
	if hook == nil {
		hook, _ = CompileOutput("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		mapFn:  opts.Map,
		filter: opts.Filter,
		hook:   hook,
		emit:   opts.Emit,
		custom: opts.CustomData,
		logger: logger.Named("output"),
	}, nil
}

// Process pushes one raw payload through the pipeline and returns how many
// records were emitted. Candidates are handled in map order. A hook failure
// stops the payload and is returned as *HookError.
func (p *Pipeline) Process(ctx context.Context, data any) (int, error) {
	items, err := p.mapFn(ctx, data)
	if err != nil {
		return 0, err
	}
	emitted := 0
	for _, item := range items {
		if p.filter != nil && !p.filter(item) {
			continue
		}
		hc := newContext(LabelOutput, p.custom, p.logger)
		out, err := p.hook.Transform(ctx, hc, data, item)
		if err != nil {
			metrics.ObserveHook(string(LabelOutput), "error")
			var he *HookError
			if !errors.As(err, &he) {
				err = &HookError{Label: LabelOutput, Err: err}
			}
			return emitted, err
		}
		metrics.ObserveHook(string(LabelOutput), "ok")
		for _, rec := range Flatten(out) {
			if err := p.emit(ctx, rec); err != nil {
				return emitted, fmt.Errorf("emit record: %w", err)
			}
			emitted++
		}
	}
	return emitted, nil
}

// Flatten expands hook results: nil yields nothing, slices and arrays yield
// their non-nil elements recursively, anything else yields itself.
func Flatten(v any) []any {
	if isNil(v) {
		return nil
	}
	switch t := v.(type) {
	case []any:
		var out []any
		for _, e := range t {
			out = append(out, Flatten(e)...)
		}
		return out
	case []map[string]any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	case []byte:
		return []any{t}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		var out []any
		for i := 0; i < rv.Len(); i++ {
			out = append(out, Flatten(rv.Index(i).Interface())...)
		}
		return out
	}
	return []any{v}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
