package discovery

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTargetPlatform is returned when a seed's robots.txt is missing,
	// lacks the platform signature, or declares no sitemap.
	ErrNotTargetPlatform = errors.New("seed is not a target storefront")
	// ErrMalformedDeclaration is returned when a Sitemap: line exists but no
	// URL can be extracted from it.
	ErrMalformedDeclaration = errors.New("malformed sitemap declaration")
)

// Error reports a per-seed resolution failure. It never aborts the run.
type Error struct {
	Seed string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovery %s: %v", e.Seed, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
