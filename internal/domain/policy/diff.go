package policy

import (
	"fmt"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"
)

// DiffRule is one rule as it appears in a diff report, keyed by
// "<match>/<name>" so renames show as remove+add.
type DiffRule struct {
	ID   string   `json:"id"`
	Rule ruleSpec `json:"rule"`
}

// FieldChange records one changed field on a surviving rule.
type FieldChange struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// ModifiedRule pairs a rule's before/after shapes with per-field changes.
type ModifiedRule struct {
	ID      string        `json:"id"`
	Before  ruleSpec      `json:"before"`
	After   ruleSpec      `json:"after"`
	Changes []FieldChange `json:"changes"`
}

// DefaultsChange shows the fallback decision on both sides.
type DefaultsChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DiffReport is the structural comparison of two bundles plus a
// risk headline flagging widened access.
type DiffReport struct {
	Added    []DiffRule     `json:"added"`
	Removed  []DiffRule     `json:"removed"`
	Modified []ModifiedRule `json:"modified"`
	Defaults DefaultsChange `json:"defaults"`
	Headline []string       `json:"headline"`
}

// Diff compares two raw bundle documents. Both sides must parse as YAML
// but are not required to compile; the diff is purely structural.
func Diff(current, proposed []byte) (*DiffReport, error) {
	var a, b bundleSpec
	if err := yaml.Unmarshal(current, &a); err != nil {
		return nil, fmt.Errorf("%w: current: %v", ErrMalformed, err)
	}
	if err := yaml.Unmarshal(proposed, &b); err != nil {
		return nil, fmt.Errorf("%w: proposed: %v", ErrMalformed, err)
	}

	ia, ib := indexRules(a), indexRules(b)

	report := &DiffReport{
		Added:    []DiffRule{},
		Removed:  []DiffRule{},
		Modified: []ModifiedRule{},
		Defaults: DefaultsChange{From: a.Defaults.Decision, To: b.Defaults.Decision},
	}

	for _, id := range sortedKeys(ib) {
		if _, ok := ia[id]; !ok {
			report.Added = append(report.Added, DiffRule{ID: id, Rule: ib[id]})
		}
	}
	for _, id := range sortedKeys(ia) {
		if _, ok := ib[id]; !ok {
			report.Removed = append(report.Removed, DiffRule{ID: id, Rule: ia[id]})
		}
	}
	for _, id := range sortedKeys(ia) {
		ra := ia[id]
		rb, ok := ib[id]
		if !ok {
			continue
		}
		changes := ruleChanges(ra, rb)
		if len(changes) == 0 {
			continue
		}
		report.Modified = append(report.Modified, ModifiedRule{ID: id, Before: ra, After: rb, Changes: changes})
	}

	report.Headline = riskHeadline(report)
	return report, nil
}

func diffKey(r ruleSpec) string {
	match := r.Match
	if match == "" {
		match = "*"
	}
	name := r.Name
	if name == "" {
		name = "_unnamed_"
	}
	return match + "/" + name
}

func indexRules(spec bundleSpec) map[string]ruleSpec {
	out := make(map[string]ruleSpec, len(spec.Rules))
	for _, r := range spec.Rules {
		out[diffKey(r)] = r
	}
	return out
}

func sortedKeys(m map[string]ruleSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ruleChanges(a, b ruleSpec) []FieldChange {
	var out []FieldChange
	if a.Match != b.Match {
		out = append(out, FieldChange{Field: "match", From: a.Match, To: b.Match})
	}
	if !reflect.DeepEqual(a.Where, b.Where) {
		out = append(out, FieldChange{Field: "where", From: a.Where, To: b.Where})
	}
	if a.Action != b.Action {
		out = append(out, FieldChange{Field: "action", From: a.Action, To: b.Action})
	}
	if a.RequiredApprovals != b.RequiredApprovals {
		out = append(out, FieldChange{Field: "required_approvals", From: a.RequiredApprovals, To: b.RequiredApprovals})
	}
	if a.Reason != b.Reason {
		out = append(out, FieldChange{Field: "reason", From: a.Reason, To: b.Reason})
	}
	return out
}

// riskHeadline flags the changes a reviewer should look at first:
// new allow surface, flipped actions, widened egress, quorum changes.
func riskHeadline(report *DiffReport) []string {
	var notes []string
	for _, add := range report.Added {
		switch add.Rule.Action {
		case string(ActionAllow):
			notes = append(notes, fmt.Sprintf("New allow: %s", add.ID))
		case string(ActionApproval):
			notes = append(notes, fmt.Sprintf("New approval flow: %s", add.ID))
		}
	}
	for _, mod := range report.Modified {
		for _, ch := range mod.Changes {
			switch ch.Field {
			case "action":
				notes = append(notes, fmt.Sprintf("Action change %s: %v -> %v", mod.ID, ch.From, ch.To))
			case "where":
				if !reflect.DeepEqual(mod.Before.Where["host_in"], mod.After.Where["host_in"]) {
					notes = append(notes, fmt.Sprintf("Changed host_in: %s", mod.ID))
				}
			case "required_approvals":
				notes = append(notes, fmt.Sprintf("Approval quorum change %s: %v -> %v", mod.ID, ch.From, ch.To))
			}
		}
	}
	if report.Defaults.From != report.Defaults.To {
		notes = append(notes, fmt.Sprintf("Default decision change: %s -> %s", report.Defaults.From, report.Defaults.To))
	}
	if len(notes) == 0 {
		notes = append(notes, "No high-risk changes detected.")
	}
	return notes
}
