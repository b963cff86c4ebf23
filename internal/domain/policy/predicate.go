package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Predicate is one compiled where-clause condition.
// The DSL is a closed set: every key in a rule's where block compiles to
// exactly one variant below at bundle load time. Unknown keys fail the
// load with ErrInvalid; evaluation itself never fails.
type Predicate interface {
	// Eval checks the predicate against tool arguments.
	// Malformed arguments produce ok=false with a reason, never a panic.
	Eval(args map[string]any) Check
}

// HostIn matches when the host of arguments.url is in the list.
type HostIn struct{ Hosts []string }

// HostNotIn matches when the host of arguments.url is not in the list.
type HostNotIn struct{ Hosts []string }

// MethodIs matches on HTTP method equality.
type MethodIs struct{ Method string }

// BodyBytesOver matches when the serialized size of arguments.body
// exceeds the threshold.
type BodyBytesOver struct{ Threshold int }

// PathUnder matches when arguments.path has one of the listed prefixes.
type PathUnder struct{ Prefixes []string }

// PathNotUnder matches when arguments.path has none of the listed prefixes.
type PathNotUnder struct{ Prefixes []string }

// CostOver matches when arguments.estimated_cost_usd exceeds the threshold.
type CostOver struct{ Threshold float64 }

// FieldIs matches on string equality of a named argument
// (provider/resource/action for cloud.ops).
type FieldIs struct {
	Field string
	Value string
}

func (p HostIn) Eval(args map[string]any) Check {
	host, check := extractHost(args)
	if !check.OK {
		return check
	}
	for _, h := range p.Hosts {
		if h == host {
			return Check{OK: true, Msg: fmt.Sprintf("host '%s' allowed", host)}
		}
	}
	return Check{OK: false, Msg: fmt.Sprintf("host '%s' not in allowlist", host)}
}

func (p HostNotIn) Eval(args map[string]any) Check {
	host, check := extractHost(args)
	if !check.OK {
		return check
	}
	for _, h := range p.Hosts {
		if h == host {
			return Check{OK: false, Msg: fmt.Sprintf("host '%s' is blocklisted", host)}
		}
	}
	return Check{OK: true, Msg: fmt.Sprintf("host '%s' outside blocklist", host)}
}

func (p MethodIs) Eval(args map[string]any) Check {
	method, ok := stringArg(args, "method")
	if !ok {
		return Check{OK: false, Msg: "arguments.method is not a string"}
	}
	if method != p.Method {
		return Check{OK: false, Msg: fmt.Sprintf("method != %s", p.Method)}
	}
	return Check{OK: true, Msg: fmt.Sprintf("method %s matches", method)}
}

func (p BodyBytesOver) Eval(args map[string]any) Check {
	size := bodySize(args["body"])
	if size <= p.Threshold {
		return Check{OK: false, Msg: fmt.Sprintf("body size %d <= threshold %d", size, p.Threshold)}
	}
	return Check{OK: true, Msg: fmt.Sprintf("body %d exceeds threshold %d", size, p.Threshold)}
}

func (p PathUnder) Eval(args map[string]any) Check {
	path, ok := stringArg(args, "path")
	if !ok {
		return Check{OK: false, Msg: "arguments.path is not a string"}
	}
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return Check{OK: true, Msg: fmt.Sprintf("path under '%s'", prefix)}
		}
	}
	return Check{OK: false, Msg: "path not under any listed prefix"}
}

func (p PathNotUnder) Eval(args map[string]any) Check {
	path, ok := stringArg(args, "path")
	if !ok {
		return Check{OK: false, Msg: "arguments.path is not a string"}
	}
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return Check{OK: false, Msg: fmt.Sprintf("path under excluded prefix '%s'", prefix)}
		}
	}
	return Check{OK: true, Msg: "path outside excluded prefixes"}
}

func (p CostOver) Eval(args map[string]any) Check {
	cost, ok := numberArg(args, "estimated_cost_usd")
	if !ok {
		cost = 0
	}
	if cost <= p.Threshold {
		return Check{OK: false, Msg: fmt.Sprintf("estimated_cost_usd %g <= %g", cost, p.Threshold)}
	}
	return Check{OK: true, Msg: fmt.Sprintf("estimated cost %g exceeds threshold %g", cost, p.Threshold)}
}

func (p FieldIs) Eval(args map[string]any) Check {
	v, ok := stringArg(args, p.Field)
	if !ok {
		return Check{OK: false, Msg: fmt.Sprintf("arguments.%s is not a string", p.Field)}
	}
	if v != p.Value {
		return Check{OK: false, Msg: fmt.Sprintf("%s '%s' != '%s'", p.Field, v, p.Value)}
	}
	return Check{OK: true, Msg: fmt.Sprintf("%s '%s' matches", p.Field, v)}
}

// extractHost pulls the host out of arguments.url.
// Accepts bare hosts as well as full URLs ("https://host/path").
func extractHost(args map[string]any) (string, Check) {
	raw, ok := stringArg(args, "url")
	if !ok {
		return "", Check{OK: false, Msg: "arguments.url is not a string"}
	}
	host := raw
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	// Strip port and userinfo for stable matching.
	if idx := strings.LastIndexByte(host, '@'); idx >= 0 {
		host = host[idx+1:]
	}
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host, Check{OK: true}
}

// bodySize measures the body argument in bytes. Strings count their raw
// length; other values count their JSON serialization, matching how the
// body travels on the wire.
func bodySize(body any) int {
	switch b := body.(type) {
	case nil:
		return 0
	case string:
		return len(b)
	case []byte:
		return len(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return 0
		}
		return len(data)
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberArg(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
