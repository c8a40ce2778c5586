package navigation

import (
	"strings"
	"unicode"
)

// DefaultTitles maps well-known routes to their display titles.
var DefaultTitles = map[string]string{
	"/":         "Home",
	"/about":    "About",
	"/articles": "Articles",
	"/contact":  "Contact",
	"/privacy":  "Privacy Policy",
}

// Titles resolves a route path to a human readable title.
type Titles struct {
	fixed map[string]string
}

// NewTitles builds a resolver from DefaultTitles overlaid with overrides.
func NewTitles(overrides map[string]string) Titles {
	fixed := make(map[string]string, len(DefaultTitles)+len(overrides))
	for path, title := range DefaultTitles {
		fixed[path] = title
	}
	for path, title := range overrides {
		fixed[normalizePath(path)] = title
	}
	return Titles{fixed: fixed}
}

// Lookup returns the fixed title for path, or one derived from its last
// segment: "go-generics_intro" becomes "Go Generics Intro".
func (t Titles) Lookup(path string) string {
	path = normalizePath(path)
	if title, ok := t.fixed[path]; ok {
		return title
	}
	return fallbackTitle(path)
}

func fallbackTitle(path string) string {
	segment := path[strings.LastIndex(path, "/")+1:]
	words := strings.FieldsFunc(segment, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	if len(words) == 0 {
		return "Page"
	}
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}
