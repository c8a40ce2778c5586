// Package botfilter decides whether a page load looks like automated traffic.
// The classifier is rule based and fails open: anything it cannot judge is
// treated as human.
package botfilter

import (
	"strings"
	"sync"
)

// Environment captures the immutable signals observed for one page load.
type Environment struct {
	// UserAgent is the raw user agent string.
	UserAgent string
	// Webdriver mirrors navigator.webdriver.
	Webdriver bool
	// Globals records which runtime globals were present. Nil means unknown.
	Globals map[string]bool
}

// defaultPatterns match case-insensitively anywhere in the user agent. "bot"
// only counts next to a version slash, separator or hyphen so device names
// such as CUBOT stay human.
var defaultPatterns = []string{
	"bot/",
	"bot;",
	"bot-",
	"-bot",
	"_bot",
	"+http",
	"crawler",
	"spider",
	"crawling",
	"slurp",
	"headless",
	"lighthouse",
	"pagespeed",
	"prerender",
	"phantomjs",
	"puppeteer",
	"playwright",
	"selenium",
	"facebookexternalhit",
	"embedly",
	"python-requests",
	"curl/",
	"wget/",
	"go-http-client",
}

var defaultExpectedGlobals = []string{
	"document",
	"navigator",
	"localStorage",
	"requestAnimationFrame",
}

// Heuristic implements a handful of rule-based checks.
type Heuristic struct {
	Patterns         []string
	ExpectedGlobals  []string
	MissingThreshold int
}

// NewHeuristic creates a new classifier. missingThreshold is the number of
// absent expected globals that marks a runtime as automated.
func NewHeuristic(missingThreshold int) *Heuristic {
	if missingThreshold <= 0 {
		missingThreshold = 2
	}
	return &Heuristic{
		Patterns:         append([]string(nil), defaultPatterns...),
		ExpectedGlobals:  append([]string(nil), defaultExpectedGlobals...),
		MissingThreshold: missingThreshold,
	}
}

// IsLikelyBot classifies env. It never fails; unknown environments are human.
func (h *Heuristic) IsLikelyBot(env Environment) bool {
	ua := strings.ToLower(strings.TrimSpace(env.UserAgent))
	if ua == "" && env.Globals == nil && !env.Webdriver {
		return false
	}
	if env.Webdriver {
		return true
	}
	for _, pattern := range h.Patterns {
		if pattern != "" && strings.Contains(ua, strings.ToLower(pattern)) {
			return true
		}
	}
	if env.Globals == nil {
		return false
	}
	missing := 0
	for _, name := range h.ExpectedGlobals {
		if !env.Globals[name] {
			missing++
		}
	}
	return missing >= h.MissingThreshold
}

// Filter caches one verdict for the lifetime of a page load.
type Filter struct {
	heuristic *Heuristic
	env       Environment

	once    sync.Once
	verdict bool
}

// NewFilter binds a heuristic to the environment of one page load. A nil
// heuristic uses NewHeuristic defaults.
func NewFilter(h *Heuristic, env Environment) *Filter {
	if h == nil {
		h = NewHeuristic(0)
	}
	globals := env.Globals
	if globals != nil {
		globals = make(map[string]bool, len(env.Globals))
		for k, v := range env.Globals {
			globals[k] = v
		}
	}
	env.Globals = globals
	return &Filter{heuristic: h, env: env}
}

// IsLikelyBot evaluates the heuristic on first use and returns the cached
// verdict afterwards.
func (f *Filter) IsLikelyBot() bool {
	if f == nil {
		return false
	}
	f.once.Do(func() {
		f.verdict = f.heuristic.IsLikelyBot(f.env)
	})
	return f.verdict
}
