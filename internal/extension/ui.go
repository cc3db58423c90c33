package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UIRequest is a prompt an extension asks the embedding application to show.
type UIRequest struct {
	// Kind is one of "input", "confirm", "select" or "notify".
	Kind          string   `json:"kind"`
	ExtensionPath string   `json:"extensionPath"`
	Title         string   `json:"title,omitempty"`
	Placeholder   string   `json:"placeholder,omitempty"`
	Message       string   `json:"message,omitempty"`
	Options       []string `json:"options,omitempty"`
	Level         string   `json:"level,omitempty"`
}

// UIResponse is relayed back to the extension. Value is a string for input
// and select, a bool for confirm.
type UIResponse struct {
	Value     any  `json:"value,omitempty"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// UIHandler answers UI requests. It runs on its own goroutine per request.
type UIHandler func(ctx context.Context, req UIRequest) (UIResponse, error)

func isUIMethod(method string) bool {
	return strings.HasPrefix(method, "ui.")
}

func decodeUIRequest(path, method string, params json.RawMessage) (UIRequest, error) {
	req := UIRequest{Kind: strings.TrimPrefix(method, "ui."), ExtensionPath: path}
	switch method {
	case MethodUIInput, MethodUIConfirm, MethodUISelect, MethodUINotify:
	default:
		return req, fmt.Errorf("unknown UI method %q", method)
	}
	if !isNull(params) {
		if err := json.Unmarshal(params, &req); err != nil {
			return req, fmt.Errorf("invalid %s params: %w", method, err)
		}
		// params never choose the kind or the caller
		req.Kind = strings.TrimPrefix(method, "ui.")
		req.ExtensionPath = path
	}
	if req.Kind == "select" && len(req.Options) == 0 {
		return req, fmt.Errorf("%s requires options", method)
	}
	return req, nil
}
