package discovery

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gzhole/graphpower/internal/graph"
	"github.com/gzhole/graphpower/internal/unicode"
)

// MaxOperations caps the candidates returned by one discovery.
const MaxOperations = 10

const (
	referenceNote = "Reference documentation - no endpoint pattern extracted"
	snippetRunes  = 200
)

// EndpointMatch is a (method, path) pair mined from documentation text.
type EndpointMatch struct {
	Path   string
	Method string
}

// Operation is one discovery candidate. Reference-only entries carry no
// Endpoint or Method.
type Operation struct {
	Endpoint            string   `json:"endpoint,omitempty"`
	Method              string   `json:"method,omitempty"`
	Title               string   `json:"title,omitempty"`
	DocumentationURL    string   `json:"documentationUrl,omitempty"`
	Description         string   `json:"description,omitempty"`
	RequiredPermissions []string `json:"requiredPermissions,omitempty"`
	Note                string   `json:"note,omitempty"`
}

// Chunk is one documentation search hit.
type Chunk struct {
	Title   string
	URL     string
	Content string
}

// pathChars excludes whitespace, quotes, markup, and table separators.
const pathChars = "[^\\s`\"<>|\\[\\]]+"

const hostAndVersion = `(?:https://graph\.microsoft\.com)?(?:/(?:v1\.0|beta))?`

var (
	// GET /me/messages in prose.
	methodPathRe = regexp.MustCompile(`\b(GET|POST|PATCH|PUT|DELETE)\s+` + hostAndVersion + `(/` + pathChars + `)`)
	// endpoint: /me/events, path: ..., url: ...
	labeledPathRe = regexp.MustCompile(`(?i)\b(?:endpoint|path|url)\s*:\s*` + hostAndVersion + `(/` + pathChars + `)`)
	// Fenced code blocks, where request lines may be any case.
	codeBlockRe     = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*\\n?(.*?)```")
	codeRequestLine = regexp.MustCompile(`(?im)^\s*(get|post|patch|put|delete)\s+` + hostAndVersion + `(/` + pathChars + `)`)
	// {id | userPrincipalName} becomes {id}.
	alternativesRe = regexp.MustCompile(`\{\s*([^{}|\s]+)\s*\|[^{}]*\}`)
)

// NormalizeChunks turns a parsed docs search payload into chunks. It
// accepts a bare array of hits, an object holding one under "results",
// "chunks", or "value", a single hit object, or {text: raw}.
func NormalizeChunks(payload interface{}) []Chunk {
	switch v := payload.(type) {
	case []interface{}:
		var out []Chunk
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, chunkFrom(m))
			}
		}
		return out
	case map[string]interface{}:
		for _, key := range []string{"results", "chunks", "value"} {
			if list, ok := v[key].([]interface{}); ok {
				return NormalizeChunks(list)
			}
		}
		return []Chunk{chunkFrom(v)}
	case string:
		return []Chunk{{Content: unicode.Sanitize(v)}}
	default:
		return nil
	}
}

func chunkFrom(m map[string]interface{}) Chunk {
	return Chunk{
		Title:   unicode.Sanitize(firstString(m, "title", "name")),
		URL:     firstString(m, "contentUrl", "url", "link"),
		Content: unicode.Sanitize(firstString(m, "content", "text", "snippet", "description")),
	}
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ParsePayload decodes the docs search text as JSON, or wraps it as
// {text: raw} when it is not JSON.
func ParsePayload(text string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return map[string]interface{}{"text": text}
}

// GraphRelevant reports whether a chunk is about Microsoft Graph. A chunk
// without title or URL is judged by its content.
func GraphRelevant(c Chunk) bool {
	if c.Title == "" && c.URL == "" {
		return containsFold(c.Content, "graph")
	}
	return containsFold(c.URL, "graph") || containsFold(c.Title, "graph")
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}

// FindEndpoints mines text for endpoint patterns in first-seen order,
// without duplicates.
func FindEndpoints(text string) []EndpointMatch {
	var out []EndpointMatch
	seen := make(map[string]bool)
	add := func(method, path string) {
		path = normalizePath(path)
		if path == "" {
			return
		}
		m := EndpointMatch{Path: path, Method: strings.ToUpper(method)}
		key := m.Path + "|" + m.Method
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, m)
	}

	text = alternativesRe.ReplaceAllString(text, "{$1}")
	for _, m := range methodPathRe.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2])
	}
	for _, m := range labeledPathRe.FindAllStringSubmatch(text, -1) {
		add("GET", m[1])
	}
	for _, block := range codeBlockRe.FindAllStringSubmatch(text, -1) {
		for _, m := range codeRequestLine.FindAllStringSubmatch(block[1], -1) {
			add(m[1], m[2])
		}
	}
	return out
}

// normalizePath strips a query string and trailing punctuation and
// rejects paths that do not look like Graph resources.
func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimRight(p, ".,;:!'")
	for strings.HasSuffix(p, ")") && strings.Count(p, "(") < strings.Count(p, ")") {
		p = strings.TrimSuffix(p, ")")
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if len(p) < 2 || strings.Contains(p, "//") {
		return ""
	}
	first := p[1]
	if !(first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z' || first == '$') {
		return ""
	}
	return p
}

// Extract builds up to MaxOperations candidates from a parsed docs search
// payload. Candidates are deduplicated by endpoint and method, or by
// documentation URL and title for reference-only entries.
func Extract(payload interface{}) []Operation {
	var ops []Operation
	seen := make(map[string]bool)
	push := func(key string, op Operation) bool {
		if seen[key] {
			return true
		}
		seen[key] = true
		ops = append(ops, op)
		return len(ops) < MaxOperations
	}

	for _, c := range NormalizeChunks(payload) {
		if !GraphRelevant(c) {
			continue
		}
		matches := FindEndpoints(c.Content)
		if len(matches) == 0 {
			if c.Title == "" && c.URL == "" {
				continue
			}
			op := Operation{
				Title:            c.Title,
				DocumentationURL: c.URL,
				Description:      snippet(c.Content),
				Note:             referenceNote,
			}
			if !push("doc|"+c.URL+"|"+c.Title, op) {
				return ops
			}
			continue
		}
		for _, m := range matches {
			op := Operation{
				Endpoint:            m.Path,
				Method:              m.Method,
				Title:               c.Title,
				DocumentationURL:    c.URL,
				Description:         snippet(c.Content),
				RequiredPermissions: graph.InferPermissions(m.Path, m.Method),
			}
			if !push(m.Path+"|"+m.Method, op) {
				return ops
			}
		}
	}
	return ops
}

// snippet collapses whitespace and shortens text for a description.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= snippetRunes {
		return s
	}
	return string(r[:snippetRunes]) + "..."
}
