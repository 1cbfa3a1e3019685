// Package htmlx builds the small HTML fragments embedded in IX-F
// notification bodies and turns those bodies back into plain text.
package htmlx

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// H is HTML that is safe to embed in a message body as-is.
// Values of type H are treated as already escaped.
type H string

func (h H) String() string { return string(h) }

// escaper uses the entities of the template engine's autoescape, so
// fragments built here match rendered templates.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	">", "&gt;",
	"<", "&lt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Esc escapes text for embedding in HTML.
func Esc(s string) H { return H(escaper.Replace(s)) }

// Raw marks a string as already-safe HTML. Use sparingly.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H { return wrap("b", Esc(s)) }

// Link builds an anchor that opens in a new window, the form used by every
// notification template.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s" target="_blank">%s</a>`, Esc(url), Esc(text)))
}

// JoinH joins non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}

var (
	strictPolicy = bluemonday.StrictPolicy()
	chatPolicy   = newChatPolicy()
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// newChatPolicy keeps the handful of tags chat HTML parse modes accept.
func newChatPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "s", "code", "pre")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	return p
}

// StripTags turns an HTML body into plain text for the text/plain part of a
// mail. Anchors become "text (url)" so the link survives.
func StripTags(body string) string {
	body = anchorRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := anchorRe.FindStringSubmatch(m)
		href, text := html.UnescapeString(sub[1]), html.UnescapeString(strictPolicy.Sanitize(sub[2]))
		if href == "" || href == text {
			return html.EscapeString(text)
		}
		if text == "" {
			return html.EscapeString(href)
		}
		return html.EscapeString(text + " (" + href + ")")
	})
	out := html.UnescapeString(strictPolicy.Sanitize(body))
	return strings.TrimSpace(blankRuns.ReplaceAllString(out, "\n\n"))
}

// SanitizeChat reduces an HTML body to the tag subset accepted by chat
// clients, dropping the target attribute and anything else unsupported.
func SanitizeChat(body string) H {
	return H(strings.TrimSpace(blankRuns.ReplaceAllString(chatPolicy.Sanitize(body), "\n\n")))
}

var anchorRe = regexp.MustCompile(`(?is)<a\s[^>]*?href="([^"]*)"[^>]*>(.*?)</a>`)
