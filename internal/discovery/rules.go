package discovery

import (
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
)

// Rules caches parsed robots.txt directives per host so later phases can
// honour Disallow rules without refetching.
type Rules struct {
	userAgent string
	cache     sync.Map
}

// NewRules returns an empty registry evaluating groups for userAgent.
func NewRules(userAgent string) *Rules {
	return &Rules{userAgent: userAgent}
}

// Record parses body and stores it for the host of robotsURL. Unparseable
// bodies are ignored.
func (r *Rules) Record(robotsURL string, status int, body []byte) {
	u, err := url.Parse(robotsURL)
	if err != nil || u.Host == "" {
		return
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return
	}
	r.cache.Store(strings.ToLower(u.Host), data)
}

// Allowed reports whether rawURL may be crawled. Hosts without recorded
// rules are allowed.
func (r *Rules) Allowed(rawURL string) bool {
	if r == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	v, ok := r.cache.Load(strings.ToLower(u.Host))
	if !ok {
		return true
	}
	data, ok := v.(*robotstxt.RobotsData)
	if !ok {
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}
