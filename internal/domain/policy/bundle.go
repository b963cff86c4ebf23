package policy

import (
	"crypto/sha256"
	"fmt"

	"gopkg.in/yaml.v3"
)

// bundleSpec is the on-disk YAML shape of a policy bundle.
type bundleSpec struct {
	Version  string `yaml:"version"`
	Defaults struct {
		Decision string `yaml:"decision"`
	} `yaml:"defaults"`
	Rules []ruleSpec `yaml:"rules"`
}

// ruleSpec is the on-disk YAML shape of a single rule. It doubles as the
// JSON shape in diff reports.
type ruleSpec struct {
	Name              string         `yaml:"name" json:"name"`
	Match             string         `yaml:"match" json:"match"`
	Where             map[string]any `yaml:"where" json:"where,omitempty"`
	Action            string         `yaml:"action" json:"action"`
	Reason            string         `yaml:"reason" json:"reason,omitempty"`
	RequiredApprovals int            `yaml:"required_approvals" json:"required_approvals,omitempty"`
	ApproverGroup     string         `yaml:"approver_group" json:"approver_group,omitempty"`
}

// ParseBundle parses and compiles raw bundle YAML into an immutable Bundle.
// Every where key compiles to its tagged predicate variant here; unknown
// keys or malformed payloads fail the load with ErrInvalid so evaluation
// never encounters an unrecognized predicate.
func ParseBundle(raw []byte) (*Bundle, error) {
	var spec bundleSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	b := &Bundle{
		Version: spec.Version,
		SHA256:  sha256.Sum256(raw),
	}

	switch spec.Defaults.Decision {
	case "", string(ActionDeny):
		b.Defaults.Decision = ActionDeny
	case string(ActionAllow):
		b.Defaults.Decision = ActionAllow
	default:
		return nil, fmt.Errorf("%w: defaults.decision %q", ErrInvalid, spec.Defaults.Decision)
	}

	b.Rules = make([]Rule, 0, len(spec.Rules))
	for i, rs := range spec.Rules {
		rule, err := compileRule(rs)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rs.Name, err)
		}
		b.Rules = append(b.Rules, rule)
	}

	return b, nil
}

func compileRule(rs ruleSpec) (Rule, error) {
	if rs.Name == "" {
		return Rule{}, fmt.Errorf("%w: rule missing name", ErrInvalid)
	}
	if rs.Match == "" {
		return Rule{}, fmt.Errorf("%w: rule missing match", ErrInvalid)
	}

	var action Action
	switch rs.Action {
	case string(ActionAllow):
		action = ActionAllow
	case string(ActionDeny):
		action = ActionDeny
	case string(ActionApproval):
		action = ActionApproval
	default:
		return Rule{}, fmt.Errorf("%w: action %q", ErrInvalid, rs.Action)
	}

	required := rs.RequiredApprovals
	if required < 1 {
		required = 1
	}

	where, err := compileWhere(rs.Where)
	if err != nil {
		return Rule{}, err
	}

	return Rule{
		Name:              rs.Name,
		Match:             rs.Match,
		Where:             where,
		Action:            action,
		Reason:            rs.Reason,
		RequiredApprovals: required,
		ApproverGroup:     rs.ApproverGroup,
	}, nil
}

// compileWhere maps every where key to its tagged predicate variant.
// Iteration order of the map does not matter: predicates are ANDed.
func compileWhere(where map[string]any) ([]Predicate, error) {
	if len(where) == 0 {
		return nil, nil
	}

	preds := make([]Predicate, 0, len(where))
	for key, raw := range where {
		p, err := compilePredicate(key, raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func compilePredicate(key string, raw any) (Predicate, error) {
	switch key {
	case "host_in":
		hosts, err := stringList(key, raw)
		if err != nil {
			return nil, err
		}
		return HostIn{Hosts: hosts}, nil
	case "host_not_in":
		hosts, err := stringList(key, raw)
		if err != nil {
			return nil, err
		}
		return HostNotIn{Hosts: hosts}, nil
	case "method":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: where.%s must be a string", ErrInvalid, key)
		}
		return MethodIs{Method: s}, nil
	case "body_bytes_over":
		n, ok := intValue(raw)
		if !ok {
			return nil, fmt.Errorf("%w: where.%s must be an integer", ErrInvalid, key)
		}
		return BodyBytesOver{Threshold: n}, nil
	case "path_under":
		prefixes, err := stringList(key, raw)
		if err != nil {
			return nil, err
		}
		return PathUnder{Prefixes: prefixes}, nil
	case "path_not_under":
		prefixes, err := stringList(key, raw)
		if err != nil {
			return nil, err
		}
		return PathNotUnder{Prefixes: prefixes}, nil
	case "estimated_cost_usd_over":
		f, ok := floatValue(raw)
		if !ok {
			return nil, fmt.Errorf("%w: where.%s must be a number", ErrInvalid, key)
		}
		return CostOver{Threshold: f}, nil
	case "provider", "resource", "action":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: where.%s must be a string", ErrInvalid, key)
		}
		return FieldIs{Field: key, Value: s}, nil
	default:
		return nil, fmt.Errorf("%w: unknown predicate %q", ErrInvalid, key)
	}
}

func stringList(key string, raw any) ([]string, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: where.%s must be a list of strings", ErrInvalid, key)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("%w: where.%s must be a list of strings", ErrInvalid, key)
		}
		out = append(out, s)
	}
	return out, nil
}

func intValue(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	default:
		return 0, false
	}
}

func floatValue(raw any) (float64, bool) {
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
