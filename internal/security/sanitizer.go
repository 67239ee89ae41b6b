// Package security provides the outbound HTTP client and HTML sanitizing
// used on untrusted feed content.
package security

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var httpsURL = regexp.MustCompile(`(?i)^https://`)

// Sanitizer strips unsafe markup from entry descriptions.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer creates a Sanitizer with an allow-list policy: basic text
// formatting, absolute links and https images.
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemes("http", "https")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src").Matching(httpsURL).OnElements("img")
	p.AllowAttrs("alt").OnElements("img")

	return &Sanitizer{policy: p}
}

// Sanitize returns the safe subset of rawHTML.
func (s *Sanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
