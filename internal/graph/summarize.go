package graph

import (
	"html"
	"regexp"
	"strings"
)

const (
	// MaxBodyContent is the longest body.content kept verbatim.
	MaxBodyContent = 500
	// MaxBodyPreview is the longest bodyPreview kept verbatim.
	MaxBodyPreview = 1000

	ellipsis = "..."
)

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlockRe  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	commentRe     = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Summarize walks a decoded Graph JSON value and bounds the size of mail and
// event bodies anywhere in it. Maps are modified in place; the (possibly
// same) value is returned for convenience.
func Summarize(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for key, child := range node {
			if key == "body" {
				if body, ok := child.(map[string]any); ok && summarizeBody(body) {
					continue
				}
			}
			if strings.EqualFold(key, "bodyPreview") {
				if s, ok := child.(string); ok {
					if runeLen(s) > MaxBodyPreview {
						node[key] = truncateRunes(s, MaxBodyPreview) + ellipsis
					}
					continue
				}
			}
			node[key] = Summarize(child)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = Summarize(child)
		}
		return node
	default:
		return v
	}
}

// summarizeBody shrinks an item body whose content is too long. It reports
// whether the body was rewritten.
func summarizeBody(body map[string]any) bool {
	content, ok := body["content"].(string)
	if !ok || runeLen(content) <= MaxBodyContent {
		return false
	}

	text := StripHTML(content)
	if runeLen(text) > MaxBodyContent {
		text = truncateRunes(text, MaxBodyContent) + ellipsis
	}
	body["content"] = text
	body["contentType"] = "text"
	body["_truncated"] = true
	return true
}

// StripHTML removes script and style blocks, comments, and tags, decodes
// entities, and collapses whitespace.
func StripHTML(s string) string {
	s = scriptBlockRe.ReplaceAllString(s, " ")
	s = styleBlockRe.ReplaceAllString(s, " ")
	s = commentRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
