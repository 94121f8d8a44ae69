package orchestrator

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gzhole/graphpower/internal/graph"
)

func requiredString(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", graph.Argf("%s is required", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", graph.Argf("%s must be a string", name)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", graph.Argf("%s is required", name)
	}
	return s, nil
}

func optionalString(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", graph.Argf("%s must be a string", name)
	}
	return strings.TrimSpace(s), nil
}

// idString accepts a string or a number, since batch ids are often written
// as 1, 2, 3.
func idString(v interface{}) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", false
	}
}

// queryParams converts a queryParams object into string values.
func queryParams(args map[string]interface{}) (map[string]string, error) {
	v, ok := args["queryParams"]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, graph.Argf("queryParams must be an object")
	}
	out := make(map[string]string, len(m))
	for k, raw := range m {
		s, err := stringify(raw)
		if err != nil {
			return nil, graph.Argf("queryParams.%s: %v", k, err)
		}
		out[k] = s
	}
	return out, nil
}

func stringify(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case nil:
		return "", nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func stringMap(v interface{}, name string) (map[string]string, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, graph.Argf("%s must be an object", name)
	}
	out := make(map[string]string, len(m))
	for k, raw := range m {
		s, err := stringify(raw)
		if err != nil {
			return nil, graph.Argf("%s.%s: %v", name, k, err)
		}
		out[k] = s
	}
	return out, nil
}
