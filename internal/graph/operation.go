package graph

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gzhole/graphpower/internal/unicode"
)

// API versions accepted in the apiVersion argument.
const (
	APIVersionV1   = "v1.0"
	APIVersionBeta = "beta"
)

// DefaultPageSize is the $top injected into collection GETs that did not
// specify one.
const DefaultPageSize = 25

// Operation is one normalized Graph call.
type Operation struct {
	Endpoint   string
	Method     string
	Body       any
	Query      map[string]string
	APIVersion string
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPatch:  true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// collectionSegments are final path segments that return collections.
var collectionSegments = map[string]bool{
	"messages":  true,
	"events":    true,
	"users":     true,
	"groups":    true,
	"teams":     true,
	"channels":  true,
	"members":   true,
	"children":  true,
	"items":     true,
	"lists":     true,
	"tasks":     true,
	"contacts":  true,
	"calendars": true,
	"drives":    true,
	"sites":     true,
}

// odataParams are the system query options that take a "$" prefix.
var odataParams = map[string]bool{
	"select":     true,
	"filter":     true,
	"expand":     true,
	"orderby":    true,
	"top":        true,
	"skip":       true,
	"search":     true,
	"count":      true,
	"format":     true,
	"skiptoken":  true,
	"deltatoken": true,
}

var placeholderRe = regexp.MustCompile(`\{[^{}]*\}`)

// NormalizeMethod uppercases m and checks it against the supported verbs.
func NormalizeMethod(m string) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(m))
	if method == "" {
		return "", Argf("'method' is required")
	}
	if !allowedMethods[method] {
		return "", Argf("unsupported method %q: must be one of GET, POST, PATCH, PUT, DELETE", m)
	}
	return method, nil
}

// NormalizeAPIVersion defaults an empty version to v1.0.
func NormalizeAPIVersion(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", APIVersionV1:
		return APIVersionV1, nil
	case APIVersionBeta:
		return APIVersionBeta, nil
	default:
		return "", Argf("unsupported apiVersion %q: must be 'v1.0' or 'beta'", v)
	}
}

// IsAbsoluteURL reports whether endpoint is a full URL, as returned in
// @odata.nextLink.
func IsAbsoluteURL(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

// ApplyCalendarDefaults fills in the query options Graph requires (or that
// keep results ordered) for calendar GETs.
func ApplyCalendarDefaults(op *Operation, now time.Time) {
	if op.Method != http.MethodGet {
		return
	}
	lower := strings.ToLower(op.Endpoint)
	if !strings.Contains(lower, "/calendar") && !strings.Contains(lower, "/events") {
		return
	}
	if op.Query == nil {
		op.Query = make(map[string]string)
	}

	if strings.Contains(lower, "/calendarview") {
		start := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
		if !hasQueryKey(op, "startDateTime") {
			op.Query["startDateTime"] = start.Format(time.RFC3339)
		}
		if !hasQueryKey(op, "endDateTime") {
			op.Query["endDateTime"] = start.AddDate(0, 0, 7).Format(time.RFC3339)
		}
		return
	}

	if strings.Contains(lower, "/events") && !hasQueryKey(op, "orderby") {
		op.Query["$orderby"] = "start/dateTime"
	}
}

// ValidateEndpoint rejects endpoints Graph would reject or that indicate the
// caller forgot to substitute a value.
func ValidateEndpoint(endpoint, method string) error {
	if strings.TrimSpace(endpoint) == "" {
		return Argf("'endpoint' is required")
	}

	if res := unicode.Scan(endpoint); !res.Clean {
		return Argf("endpoint %q contains a hidden or non-printing character (%s); retype the path", endpoint, res.Findings[0])
	}

	if m := placeholderRe.FindString(endpoint); m != "" {
		return Argf("endpoint %q contains unresolved placeholder %s; replace it with an actual ID or value (use discover_graph or a list call to find it)", endpoint, m)
	}

	if IsAbsoluteURL(endpoint) {
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" {
			return Argf("endpoint %q is not a valid URL", endpoint)
		}
		if !strings.EqualFold(u.Scheme, "https") {
			return Argf("absolute endpoint URLs must use https, got %q", u.Scheme)
		}
		if !strings.EqualFold(u.Hostname(), "graph.microsoft.com") {
			return Argf("absolute endpoint URLs must point at graph.microsoft.com, got %q", u.Host)
		}
		return nil
	}

	path := endpoint
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	if strings.Contains(path, "//") {
		return Argf("endpoint %q contains '//'; check for an empty path segment", endpoint)
	}

	trimmed := strings.ToLower(strings.TrimPrefix(path, "/"))
	if strings.HasPrefix(trimmed, "v1.0/") || strings.HasPrefix(trimmed, "beta/") || trimmed == "v1.0" || trimmed == "beta" {
		return Argf("endpoint %q must not include the API version; pass apiVersion instead (e.g. endpoint '/me', apiVersion 'beta')", endpoint)
	}

	if method == http.MethodDelete && collectionSegments[lastSegment(path)] {
		return Argf("refusing to DELETE the collection %q: include the ID of the item to delete", endpoint)
	}

	return nil
}

// IsCollectionEndpoint reports whether the last path segment of endpoint is
// a known collection.
func IsCollectionEndpoint(endpoint string) bool {
	return collectionSegments[lastSegment(pathOnly(endpoint))]
}

// BuildURL joins baseURL, the API version, and the endpoint, appending the
// normalized query options. For GETs on collection endpoints a $top of
// pageSize is injected when the caller did not set one.
func BuildURL(baseURL string, op Operation, pageSize int) string {
	var raw string
	if IsAbsoluteURL(op.Endpoint) {
		raw = op.Endpoint
	} else {
		raw = strings.TrimRight(baseURL, "/") + "/" + op.APIVersion + "/" + strings.TrimPrefix(op.Endpoint, "/")
	}

	params := NormalizeQuery(op.Query)
	if op.Method == http.MethodGet && pageSize > 0 && !IsAbsoluteURL(op.Endpoint) &&
		IsCollectionEndpoint(op.Endpoint) && !hasQueryKey(&op, "top") {
		params["$top"] = strconv.Itoa(pageSize)
	}
	if len(params) == 0 {
		return raw
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(raw)
	if strings.Contains(raw, "?") {
		sb.WriteByte('&')
	} else {
		sb.WriteByte('?')
	}
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(escapeQueryKey(k))
		sb.WriteByte('=')
		sb.WriteString(escapeQueryValue(params[k]))
	}
	return sb.String()
}

// NormalizeQuery returns a copy of q with OData system options prefixed
// with "$". Other keys (startDateTime, etc.) are kept as given. When both
// "top" and "$top" are present the "$" form wins.
func NormalizeQuery(q map[string]string) map[string]string {
	out := make(map[string]string, len(q))
	explicit := make(map[string]string)
	for k, v := range q {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if strings.HasPrefix(key, "$") {
			explicit[key] = v
			continue
		}
		if odataParams[strings.ToLower(key)] {
			key = "$" + strings.ToLower(key)
		}
		out[key] = v
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out
}

// hasQueryKey reports whether name (without "$") is already present in the
// operation's query map or inline in its endpoint.
func hasQueryKey(op *Operation, name string) bool {
	for k := range op.Query {
		if strings.EqualFold(strings.TrimPrefix(k, "$"), name) {
			return true
		}
	}
	i := strings.IndexByte(op.Endpoint, '?')
	if i < 0 {
		return false
	}
	for _, pair := range strings.Split(op.Endpoint[i+1:], "&") {
		key := pair
		if j := strings.IndexByte(pair, '='); j >= 0 {
			key = pair[:j]
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if strings.EqualFold(strings.TrimPrefix(key, "$"), name) {
			return true
		}
	}
	return false
}

func lastSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return strings.ToLower(path)
}

func escapeQueryKey(k string) string {
	if strings.HasPrefix(k, "$") {
		return "$" + url.QueryEscape(k[1:])
	}
	return url.QueryEscape(k)
}

// escapeQueryValue percent-encodes v, using %20 for spaces since Graph
// filter expressions do not treat "+" as a space.
func escapeQueryValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}
