package policy

import (
	"fmt"
	"path"
)

// Evaluate decides a tool call against the bundle. First matching rule in
// file order wins; when nothing matches the defaults apply under the
// synthetic rule name "__default__". Evaluation is pure and never fails:
// malformed arguments simply fail the predicate that inspects them.
func (b *Bundle) Evaluate(call ToolCall) Decision {
	trace := make([]TraceEntry, 0, len(b.Rules))

	for _, rule := range b.Rules {
		entry := TraceEntry{Rule: rule.Name}
		if !matchTool(rule.Match, call.Tool) {
			entry.Explain = []Check{{OK: false, Msg: fmt.Sprintf("tool '%s' does not match '%s'", call.Tool, rule.Match)}}
			trace = append(trace, entry)
			continue
		}

		matched := true
		for _, pred := range rule.Where {
			check := pred.Eval(call.Arguments)
			entry.Explain = append(entry.Explain, check)
			if !check.OK {
				matched = false
				break
			}
		}
		entry.Matched = matched
		trace = append(trace, entry)

		if matched {
			return Decision{
				Decision:          rule.Action,
				RuleName:          rule.Name,
				Reason:            rule.Reason,
				RequiredApprovals: rule.RequiredApprovals,
				ApproverGroup:     rule.ApproverGroup,
				Trace:             trace,
			}
		}
	}

	trace = append(trace, TraceEntry{Rule: DefaultRuleName, Matched: true})
	return Decision{
		Decision: b.Defaults.Decision,
		RuleName: DefaultRuleName,
		Reason:   "no rule matched",
		Trace:    trace,
	}
}

// matchTool reports whether a rule's match pattern covers the tool name.
// Patterns are exact names or globs in the path.Match dialect ("fs.*").
func matchTool(pattern, tool string) bool {
	if pattern == tool {
		return true
	}
	ok, err := path.Match(pattern, tool)
	return err == nil && ok
}
