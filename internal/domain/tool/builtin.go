package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Builtins returns the gateway's built-in tool set in listing order.
func Builtins() *Registry {
	return NewRegistry(netHTTP(), fsRead(), fsWrite(), mailSend(), cloudOps(), cloudEstimate())
}

func netHTTP() Tool {
	return Tool{
		Name:        "net.http",
		Title:       "HTTP Request",
		Description: "Perform an outbound HTTP request (mock implementation)",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE", "PATCH", "HEAD"]},
				"url": {"type": "string"},
				"body": {"type": "string"}
			},
			"required": ["method", "url"]
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"status": {"type": "number"},
				"url": {"type": "string"}
			},
			"required": ["status"]
		}`),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			method, ok := args["method"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: method must be a string", ErrBadArguments)
			}
			url, ok := args["url"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: url must be a string", ErrBadArguments)
			}
			return map[string]any{
				"status": 200,
				"method": method,
				"url":    url,
			}, nil
		},
	}
}

func fsRead() Tool {
	return Tool{
		Name:        "fs.read",
		Title:       "File System Read",
		Description: "Read a file from the filesystem (mock implementation)",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"}
			},
			"required": ["path"]
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"success": {"type": "boolean"},
				"bytes": {"type": "string", "description": "Base64 encoded data"}
			},
			"required": ["success"]
		}`),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path, ok := args["path"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: path must be a string", ErrBadArguments)
			}
			return map[string]any{
				"success": true,
				"path":    path,
				"bytes":   "",
			}, nil
		},
	}
}

func fsWrite() Tool {
	return Tool{
		Name:        "fs.write",
		Title:       "File System Write",
		Description: "Write data to the filesystem (mock implementation)",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"bytes": {"type": "string", "description": "Base64 encoded data"}
			},
			"required": ["path", "bytes"]
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"success": {"type": "boolean"},
				"bytes_written": {"type": "number"}
			},
			"required": ["success"]
		}`),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path, ok := args["path"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: path must be a string", ErrBadArguments)
			}
			encoded, ok := args["bytes"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: bytes must be a base64 string", ErrBadArguments)
			}
			data, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				// Callers frequently send plain text; count it as-is.
				data = []byte(encoded)
			}
			return map[string]any{
				"success":       true,
				"path":          path,
				"bytes_written": len(data),
			}, nil
		},
	}
}

func mailSend() Tool {
	return Tool{
		Name:        "mail.send",
		Title:       "Send Mail",
		Description: "Send an email (mock implementation)",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"to": {"type": "string"},
				"subject": {"type": "string"},
				"body": {"type": "string"}
			},
			"required": ["to", "subject"]
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"success": {"type": "boolean"},
				"message_id": {"type": "string"}
			},
			"required": ["success"]
		}`),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			to, ok := args["to"].(string)
			if !ok || to == "" {
				return nil, fmt.Errorf("%w: to must be a non-empty string", ErrBadArguments)
			}
			return map[string]any{
				"success":    true,
				"to":         to,
				"message_id": uuid.NewString(),
			}, nil
		},
	}
}

func cloudOps() Tool {
	return Tool{
		Name:        "cloud.ops",
		Title:       "Cloud Operations",
		Description: "Execute cloud operations (mock implementation)",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"provider": {"type": "string", "enum": ["aws", "gcp", "azure"]},
				"resource": {"type": "string"},
				"action": {"type": "string"},
				"estimated_cost_usd": {"type": "number", "minimum": 0}
			},
			"required": ["provider", "resource", "action"]
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"success": {"type": "boolean"},
				"resource_id": {"type": "string"},
				"cost_usd": {"type": "number"}
			},
			"required": ["success"]
		}`),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			provider, ok := args["provider"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: provider must be a string", ErrBadArguments)
			}
			resource, ok := args["resource"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: resource must be a string", ErrBadArguments)
			}
			action, ok := args["action"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: action must be a string", ErrBadArguments)
			}
			cost, _ := args["estimated_cost_usd"].(float64)
			return map[string]any{
				"success":     true,
				"resource_id": fmt.Sprintf("%s-%s-%s", provider, resource, uuid.NewString()[:8]),
				"cost_usd":    cost,
				"provider":    provider,
				"action":      action,
			}, nil
		},
	}
}

func cloudEstimate() Tool {
	return Tool{
		Name:        "cloud.estimate",
		Title:       "Cloud Cost Estimator",
		Description: "Rough, static estimator for cloud ops; use before cloud.ops",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"provider": {"type": "string", "enum": ["aws", "gcp", "azure"]},
				"action": {"type": "string"},
				"units": {"type": "number", "minimum": 0}
			},
			"required": ["provider", "action", "units"]
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"estimated_cost_usd": {"type": "number"},
				"unit": {"type": "string"},
				"usd_per_unit": {"type": "number"},
				"source": {"type": "string"}
			},
			"required": ["estimated_cost_usd"]
		}`),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			provider, ok := args["provider"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: provider must be a string", ErrBadArguments)
			}
			action, ok := args["action"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: action must be a string", ErrBadArguments)
			}
			units, ok := numeric(args["units"])
			if !ok {
				return nil, fmt.Errorf("%w: units must be a number", ErrBadArguments)
			}
			return EstimateCost(provider, action, units)
		},
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
