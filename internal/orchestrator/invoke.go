package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gzhole/graphpower/internal/graph"
)

const (
	nextLinkKey      = "@odata.nextLink"
	countKey         = "@odata.count"
	pagingHint       = "More results are available. Call invoke_graph again with endpoint set to the full nextLink URL to get the next page."
	nonJSONPreview   = 2000
	noContentMessage = "Request completed successfully with no content."
)

// InvokeSuccess is the invoke_graph payload for a 2xx response.
type InvokeSuccess struct {
	Success    bool        `json:"success"`
	Endpoint   string      `json:"endpoint"`
	Method     string      `json:"method"`
	APIVersion string      `json:"apiVersion"`
	Data       interface{} `json:"data"`
	HasMore    bool        `json:"hasMore,omitempty"`
	NextLink   string      `json:"nextLink,omitempty"`
	TotalCount *int64      `json:"totalCount,omitempty"`
	Hint       string      `json:"hint,omitempty"`
}

// parseOperation builds and validates a graph.Operation from invoke_graph
// arguments.
func (o *Orchestrator) parseOperation(args map[string]interface{}) (graph.Operation, error) {
	endpoint, err := requiredString(args, "endpoint")
	if err != nil {
		return graph.Operation{}, err
	}
	rawMethod, err := requiredString(args, "method")
	if err != nil {
		return graph.Operation{}, err
	}
	method, err := graph.NormalizeMethod(rawMethod)
	if err != nil {
		return graph.Operation{}, err
	}
	rawVersion, err := optionalString(args, "apiVersion")
	if err != nil {
		return graph.Operation{}, err
	}
	version, err := graph.NormalizeAPIVersion(rawVersion)
	if err != nil {
		return graph.Operation{}, err
	}
	query, err := queryParams(args)
	if err != nil {
		return graph.Operation{}, err
	}

	op := graph.Operation{
		Endpoint:   endpoint,
		Method:     method,
		Body:       args["body"],
		Query:      query,
		APIVersion: version,
	}
	if !graph.IsAbsoluteURL(op.Endpoint) && !strings.HasPrefix(op.Endpoint, "/") {
		op.Endpoint = "/" + op.Endpoint
	}

	graph.ApplyCalendarDefaults(&op, o.cfg.Clock.Now())
	if err := graph.ValidateEndpoint(op.Endpoint, op.Method); err != nil {
		return graph.Operation{}, err
	}
	return op, nil
}

func (o *Orchestrator) invokeGraph(ctx context.Context, args map[string]interface{}, authorization string) (reply, error) {
	op, err := o.parseOperation(args)
	if err != nil {
		return reply{}, err
	}

	res, err := o.cfg.Graph.Execute(ctx, op, authorization)
	if err != nil {
		return reply{}, err
	}

	if ae := res.Access(); ae != nil {
		return reply{data: ae, isError: true, outcome: OutcomeAccessDenied, statusCode: res.StatusCode}, nil
	}
	if ue := res.Upstream(); ue != nil {
		return reply{data: ue, outcome: OutcomeUpstreamError, statusCode: res.StatusCode}, nil
	}
	return reply{data: wrapSuccess(op, res), outcome: OutcomeSuccess, statusCode: res.StatusCode}, nil
}

// wrapSuccess summarizes a 2xx body and surfaces paging metadata.
func wrapSuccess(op graph.Operation, res *graph.Result) *InvokeSuccess {
	out := &InvokeSuccess{
		Success:    true,
		Endpoint:   op.Endpoint,
		Method:     op.Method,
		APIVersion: op.APIVersion,
	}

	body := strings.TrimSpace(string(res.Body))
	if body == "" || res.StatusCode == http.StatusNoContent {
		out.Data = map[string]interface{}{"status": res.StatusCode, "message": noContentMessage}
		return out
	}

	var data interface{}
	if err := json.Unmarshal(res.Body, &data); err != nil {
		out.Data = truncate(body, nonJSONPreview)
		return out
	}
	data = graph.Summarize(data)
	out.Data = data

	if m, ok := data.(map[string]interface{}); ok {
		if link, ok := m[nextLinkKey].(string); ok && link != "" {
			out.HasMore = true
			out.NextLink = link
			out.Hint = pagingHint
		}
		if n, ok := m[countKey].(float64); ok {
			count := int64(n)
			out.TotalCount = &count
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
