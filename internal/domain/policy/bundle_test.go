package policy

import (
	"errors"
	"testing"
)

func TestParseBundle_CompilesPredicates(t *testing.T) {
	t.Parallel()

	const raw = `
version: v3
defaults:
  decision: deny
rules:
  - name: everything
    match: net.http
    where:
      host_in: ["a.example"]
      host_not_in: ["b.example"]
      method: POST
      body_bytes_over: 1024
      path_under: ["/api"]
      path_not_under: ["/api/internal"]
      estimated_cost_usd_over: 10.5
      provider: aws
      resource: ec2
      action: terminate
    action: approval
    required_approvals: 2
`
	b, err := ParseBundle([]byte(raw))
	if err != nil {
		t.Fatalf("ParseBundle() error = %v", err)
	}
	if b.Version != "v3" {
		t.Errorf("version = %q, want v3", b.Version)
	}
	if got := len(b.Rules[0].Where); got != 10 {
		t.Errorf("compiled %d predicates, want 10", got)
	}
}

func TestParseBundle_UnknownPredicate(t *testing.T) {
	t.Parallel()

	const raw = `
version: v1
rules:
  - name: bad
    match: net.http
    where:
      regex_match: ".*"
    action: allow
`
	_, err := ParseBundle([]byte(raw))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("ParseBundle() error = %v, want ErrInvalid", err)
	}
}

func TestParseBundle_MalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := ParseBundle([]byte("rules:\n  - {name: ["))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("ParseBundle() error = %v, want ErrMalformed", err)
	}
}

func TestParseBundle_BadAction(t *testing.T) {
	t.Parallel()

	const raw = `
version: v1
rules:
  - name: bad
    match: net.http
    action: maybe
`
	_, err := ParseBundle([]byte(raw))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("ParseBundle() error = %v, want ErrInvalid", err)
	}
}

func TestParseBundle_DefaultsFailClosed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Action
	}{
		{"omitted", "version: v1\nrules: []\n", ActionDeny},
		{"explicit deny", "version: v1\ndefaults:\n  decision: deny\nrules: []\n", ActionDeny},
		{"explicit allow", "version: v1\ndefaults:\n  decision: allow\nrules: []\n", ActionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := ParseBundle([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseBundle() error = %v", err)
			}
			if b.Defaults.Decision != tt.want {
				t.Errorf("defaults = %q, want %q", b.Defaults.Decision, tt.want)
			}
		})
	}
}

func TestParseBundle_ApprovalDefaultsToDeny(t *testing.T) {
	t.Parallel()

	_, err := ParseBundle([]byte("version: v1\ndefaults:\n  decision: approval\nrules: []\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("ParseBundle() error = %v, want ErrInvalid for defaults.decision=approval", err)
	}
}

func TestParseBundle_MinimumQuorum(t *testing.T) {
	t.Parallel()

	const raw = `
version: v1
rules:
  - name: gate
    match: fs.write
    action: approval
`
	b, err := ParseBundle([]byte(raw))
	if err != nil {
		t.Fatalf("ParseBundle() error = %v", err)
	}
	if b.Rules[0].RequiredApprovals != 1 {
		t.Errorf("required_approvals = %d, want floor of 1", b.Rules[0].RequiredApprovals)
	}
}
