package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
)

// ScraperHook runs at lifecycle points. Side effects go through hc.
type ScraperHook interface {
	Call(ctx context.Context, hc *Context) error
}

// OutputHook transforms one candidate record. Returning nil suppresses it,
// a slice fans it out, anything else is emitted once.
type OutputHook interface {
	Transform(ctx context.Context, hc *Context, data any, item map[string]any) (any, error)
}

// ScraperFunc adapts a function to ScraperHook.
type ScraperFunc func(ctx context.Context, hc *Context) error

// Call implements ScraperHook.
func (f ScraperFunc) Call(ctx context.Context, hc *Context) error { return f(ctx, hc) }

// OutputFunc adapts a function to OutputHook.
type OutputFunc func(ctx context.Context, hc *Context, data any, item map[string]any) (any, error)

// Transform implements OutputHook.
func (f OutputFunc) Transform(ctx context.Context, hc *Context, data any, item map[string]any) (any, error) {
	return f(ctx, hc, data, item)
}

// RegistryPrefix selects a registered callback instead of an expression.
const RegistryPrefix = "@"

var (
	registryMu sync.RWMutex
	scrapers   = make(map[string]ScraperHook)
	outputs    = make(map[string]OutputHook)
)

// RegisterScraper makes a scraper hook available as "@name".
// It panics on an empty name or a duplicate registration.
func RegisterScraper(name string, hook ScraperHook) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || hook == nil {
		panic("hooks: RegisterScraper requires a name and a hook")
	}
	if _, dup := scrapers[name]; dup {
		panic("hooks: RegisterScraper called twice for " + name)
	}
	scrapers[name] = hook
}

// RegisterOutput makes an output hook available as "@name".
// It panics on an empty name or a duplicate registration.
func RegisterOutput(name string, hook OutputHook) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || hook == nil {
		panic("hooks: RegisterOutput requires a name and a hook")
	}
	if _, dup := outputs[name]; dup {
		panic("hooks: RegisterOutput called twice for " + name)
	}
	outputs[name] = hook
}

// Registered lists the registered scraper and output hook names.
func Registered() (scraperNames, outputNames []string) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for n := range scrapers {
		scraperNames = append(scraperNames, n)
	}
	for n := range outputs {
		outputNames = append(outputNames, n)
	}
	sort.Strings(scraperNames)
	sort.Strings(outputNames)
	return scraperNames, outputNames
}

// CompileScraper turns source into a ScraperHook. Empty source is a no-op.
func CompileScraper(source string) (ScraperHook, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return ScraperFunc(func(context.Context, *Context) error { return nil }), nil
	}
	if name, ok := strings.CutPrefix(source, RegistryPrefix); ok {
		registryMu.RLock()
		hook, found := scrapers[name]
		registryMu.RUnlock()
		if !found {
			return nil, &CompileError{Kind: "scraper", Source: source, Err: fmt.Errorf("no scraper hook registered as %q", name)}
		}
		return hook, nil
	}
	program, err := compile(source)
	if err != nil {
		return nil, &CompileError{Kind: "scraper", Source: source, Err: err}
	}
	return &exprScraper{program: program}, nil
}

// CompileOutput turns source into an OutputHook. Empty source passes the
// candidate through unchanged.
func CompileOutput(source string) (OutputHook, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return OutputFunc(func(_ context.Context, _ *Context, _ any, item map[string]any) (any, error) {
			return item, nil
		}), nil
	}
	if name, ok := strings.CutPrefix(source, RegistryPrefix); ok {
		registryMu.RLock()
		hook, found := outputs[name]
		registryMu.RUnlock()
		if !found {
			return nil, &CompileError{Kind: "output", Source: source, Err: fmt.Errorf("no output hook registered as %q", name)}
		}
		return hook, nil
	}
	program, err := compile(source)
	if err != nil {
		return nil, &CompileError{Kind: "output", Source: source, Err: err}
	}
	return &exprOutput{program: program}, nil
}

// filterAccumulator is the env entry that filter(bool) calls are rewritten to.
const filterAccumulator = "__filter"

// errFilterUnbound is returned if a filter(bool) call escapes the rewrite.
var errFilterUnbound = errors.New("filter called outside of a hook invocation")

// compile parses source once. filter is declared as a one-argument function
// so the parser does not treat it as the collection builtin, and every call
// is then rewritten onto the per-invocation accumulator.
func compile(source string) (*vm.Program, error) {
	return expr.Compile(source,
		expr.Function("filter", func(...any) (any, error) {
			return nil, errFilterUnbound
		}, new(func(bool) bool)),
		expr.Patch(filterCallPatcher{}),
	)
}

// filterCallPatcher rewrites filter(x) into __filter(x).
type filterCallPatcher struct{}

func (filterCallPatcher) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok {
		return
	}
	callee, ok := call.Callee.(*ast.IdentifierNode)
	if !ok || callee.Value != "filter" {
		return
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: filterAccumulator},
		Arguments: call.Arguments,
	})
}

type exprScraper struct {
	program *vm.Program
}

func (h *exprScraper) Call(_ context.Context, hc *Context) error {
	if _, err := expr.Run(h.program, hc.env()); err != nil {
		return err
	}
	return nil
}

type exprOutput struct {
	program *vm.Program
}

func (h *exprOutput) Transform(_ context.Context, hc *Context, data any, item map[string]any) (any, error) {
	return expr.Run(h.program, outputEnv(hc, data, item))
}
