package approval

import "time"

// TallyStatus computes the status a record should hold at now.
// Deny precedence: a single deny is terminal regardless of how many
// approves exist or in what order they arrived, which makes the tally
// commutative across approvers.
func TallyStatus(p *Pending, now time.Time) Status {
	if p.Status.Terminal() {
		return p.Status
	}
	approves := 0
	for _, d := range p.Decisions {
		switch d.Action {
		case Deny:
			return StatusDeny
		case Approve:
			approves++
		}
	}
	if approves >= p.RequiredApprovals {
		return StatusAllow
	}
	if p.Expired(now) {
		return StatusExpired
	}
	return StatusPending
}

// ApplyDecision mutates the record with one approver's verdict and
// returns the resulting status. Callers must hold whatever lock the
// store uses; this function is the single place the state machine lives.
//
// Rules:
//   - terminal records are frozen; re-posting any decision is a no-op
//     that returns the settled status,
//   - decisions after the TTL are rejected with ErrExpired and the
//     record moves to expired,
//   - before a terminal state, the last write per approver wins.
func ApplyDecision(p *Pending, approver string, action DecisionAction, now time.Time) (Status, error) {
	if p.Status.Terminal() {
		return p.Status, nil
	}
	if p.Expired(now) {
		p.Status = StatusExpired
		return p.Status, ErrExpired
	}
	if p.Decisions == nil {
		p.Decisions = map[string]ApproverDecision{}
	}
	p.Decisions[approver] = ApproverDecision{Action: action, At: now.UTC()}
	p.Status = TallyStatus(p, now)
	return p.Status, nil
}
