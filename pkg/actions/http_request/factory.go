package http_request_action

import "github.com/mstairs/flowline/pkg/protocol"

func NewHTTPRequestActionFactory() *HTTPRequestActionFactory {
	return &HTTPRequestActionFactory{}
}

type HTTPRequestActionFactory struct{}

func (*HTTPRequestActionFactory) ID() string {
	return "http_request"
}

func (*HTTPRequestActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL. Supports templating.",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers; values support templating.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Supports templating.",
			},
			"timeout_seconds": map[string]any{
				"type":        "number",
				"description": "Per-request timeout in seconds",
				"default":     30,
			},
		},
		"required": []string{"url"},
	}
}

func (f *HTTPRequestActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewHTTPRequestAction(config)
}
