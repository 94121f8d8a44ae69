package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gzhole/graphpower/internal/graph"
)

// BatchItem is one sub-response in request order.
type BatchItem struct {
	ID      string      `json:"id"`
	Status  int         `json:"status"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// BatchSummary is the batch_invoke_graph payload.
type BatchSummary struct {
	Success      bool        `json:"success"`
	BatchSize    int         `json:"batchSize"`
	SuccessCount int         `json:"successCount"`
	ErrorCount   int         `json:"errorCount"`
	Responses    []BatchItem `json:"responses"`
}

// parseBatch validates batch_invoke_graph arguments.
func parseBatch(args map[string]interface{}) (string, []graph.BatchRequest, error) {
	rawVersion, err := optionalString(args, "apiVersion")
	if err != nil {
		return "", nil, err
	}
	version, err := graph.NormalizeAPIVersion(rawVersion)
	if err != nil {
		return "", nil, err
	}

	list, ok := args["requests"].([]interface{})
	if !ok {
		if args["requests"] == nil {
			return "", nil, graph.Argf("requests is required")
		}
		return "", nil, graph.Argf("requests must be an array")
	}
	if len(list) == 0 {
		return "", nil, graph.Argf("requests must contain at least one request")
	}
	if len(list) > MaxBatchRequests {
		return "", nil, graph.Argf("requests has %d entries; a batch allows at most %d", len(list), MaxBatchRequests)
	}

	reqs := make([]graph.BatchRequest, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return "", nil, graph.Argf("requests[%d] must be an object", i)
		}
		id, ok := idString(m["id"])
		if !ok {
			return "", nil, graph.Argf("requests[%d].id is required", i)
		}
		if seen[id] {
			return "", nil, graph.Argf("requests[%d].id %q is not unique", i, id)
		}
		seen[id] = true

		endpoint, err := requiredString(m, "endpoint")
		if err != nil {
			return "", nil, graph.Argf("requests[%d]: %s", i, err.Error())
		}
		if graph.IsAbsoluteURL(endpoint) {
			return "", nil, graph.Argf("requests[%d].endpoint must be a relative path, not a URL", i)
		}
		if !strings.HasPrefix(endpoint, "/") {
			endpoint = "/" + endpoint
		}

		method := http.MethodGet
		if raw, err := optionalString(m, "method"); err != nil {
			return "", nil, graph.Argf("requests[%d]: %s", i, err.Error())
		} else if raw != "" {
			if method, err = graph.NormalizeMethod(raw); err != nil {
				return "", nil, graph.Argf("requests[%d]: %s", i, err.Error())
			}
		}
		if err := graph.ValidateEndpoint(endpoint, method); err != nil {
			return "", nil, graph.Argf("requests[%d]: %s", i, err.Error())
		}

		headers, err := stringMap(m["headers"], "headers")
		if err != nil {
			return "", nil, graph.Argf("requests[%d]: %s", i, err.Error())
		}
		body := m["body"]
		if body != nil && !hasHeader(headers, "Content-Type") {
			if headers == nil {
				headers = make(map[string]string, 1)
			}
			headers["Content-Type"] = "application/json"
		}

		reqs = append(reqs, graph.BatchRequest{
			ID:      id,
			Method:  method,
			URL:     endpoint,
			Body:    body,
			Headers: headers,
		})
	}
	return version, reqs, nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) batchInvokeGraph(ctx context.Context, args map[string]interface{}, authorization string) (reply, error) {
	version, reqs, err := parseBatch(args)
	if err != nil {
		return reply{}, err
	}

	res, err := o.cfg.Graph.ExecuteBatch(ctx, version, reqs, authorization)
	if err != nil {
		return reply{}, err
	}
	if ae := res.Access(); ae != nil {
		return reply{data: ae, isError: true, outcome: OutcomeAccessDenied, statusCode: res.StatusCode}, nil
	}
	if ue := res.Upstream(); ue != nil {
		return reply{data: ue, outcome: OutcomeUpstreamError, statusCode: res.StatusCode}, nil
	}

	responses, err := graph.DecodeBatch(res.Body)
	if err != nil {
		return reply{}, err
	}
	summary := summarizeBatch(reqs, responses)
	outcome := OutcomeSuccess
	if !summary.Success {
		outcome = OutcomeUpstreamError
	}
	return reply{data: summary, outcome: outcome, statusCode: res.StatusCode}, nil
}

// summarizeBatch pairs sub-responses with requests by id, in request order.
func summarizeBatch(reqs []graph.BatchRequest, responses []graph.BatchResponse) *BatchSummary {
	byID := make(map[string]graph.BatchResponse, len(responses))
	for _, r := range responses {
		byID[r.ID] = r
	}

	summary := &BatchSummary{BatchSize: len(reqs), Responses: make([]BatchItem, 0, len(reqs))}
	for _, req := range reqs {
		item := BatchItem{ID: req.ID}
		r, ok := byID[req.ID]
		if !ok {
			item.Error = map[string]interface{}{"message": "no response returned for this request"}
			summary.ErrorCount++
			summary.Responses = append(summary.Responses, item)
			continue
		}

		item.Status = r.Status
		body := decodeBody(r.Body)
		if r.Status >= 200 && r.Status < 300 {
			item.Success = true
			item.Data = graph.Summarize(body)
			summary.SuccessCount++
		} else {
			item.Error = body
			summary.ErrorCount++
		}
		summary.Responses = append(summary.Responses, item)
	}
	summary.Success = summary.ErrorCount == 0
	return summary
}

func decodeBody(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
