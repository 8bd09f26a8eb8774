package gateway

import (
	"strings"

	"github.com/bytedance/sonic"
)

// rewriteHosts replaces every occurrence of from with to inside string
// values of a JSON document. Non-JSON bodies are returned unchanged.
func rewriteHosts(body []byte, from, to string) ([]byte, error) {
	if from == to || !strings.Contains(string(body), from) {
		return body, nil
	}

	var doc any
	if err := sonic.ConfigStd.Unmarshal(body, &doc); err != nil {
		return body, nil
	}
	doc = rewriteValue(doc, from, to)
	return sonic.ConfigStd.Marshal(doc)
}

func rewriteValue(v any, from, to string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, from, to)
	case []any:
		for i := range t {
			t[i] = rewriteValue(t[i], from, to)
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = rewriteValue(val, from, to)
		}
		return t
	default:
		return v
	}
}
