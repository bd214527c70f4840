// Package hooks compiles and invokes user-supplied extension logic at fixed
// points of a crawl. Hooks are either expr-lang expressions evaluated in a
// sandboxed environment or Go callbacks registered under a name.
package hooks

// Label identifies the lifecycle point a scraper hook is invoked at.
type Label string

// Scraper hook labels, in the order a run reaches them.
const (
	LabelSetup            Label = "SETUP"
	LabelFilterSitemapURL Label = "FILTER_SITEMAP_URL"
	LabelPreNavigation    Label = "PRENAVIGATION"
	LabelPostNavigation   Label = "POSTNAVIGATION"
	LabelRun              Label = "RUN"
	LabelFinished         Label = "FINISHED"

	// LabelOutput marks output hook invocations.
	LabelOutput Label = "OUTPUT"
)
