package condition

import (
	"sort"

	"boostplane/pkg/errutil"
)

// StatusRule pairs a target status with the conditions that must ALL hold
// for the status to activate.
type StatusRule struct {
	Status     Status
	Conditions []Condition
}

// ParseRules turns a boost's statusConditions map into an ordered rule list,
// lowest target status first. Map iteration order never matters after this.
func ParseRules(statusConditions map[string][]string) ([]StatusRule, error) {
	rules := make([]StatusRule, 0, len(statusConditions))
	for name, raws := range statusConditions {
		status := Status(name)
		if !status.Valid() {
			return nil, errutil.BadRequest("unknown target status: " + name)
		}
		conds, err := ParseAll(raws)
		if err != nil {
			return nil, err
		}
		rules = append(rules, StatusRule{Status: status, Conditions: conds})
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Status.Order() < rules[j].Status.Order()
	})
	return rules, nil
}

// NextStatus computes the transition for one account. It returns the new
// status and true when a transition activates, or ("", false) otherwise.
// Accounts already in a terminal status never transition again.
func NextStatus(rules []StatusRule, current Status, trig Trigger) (Status, bool, error) {
	if current.IsTerminal() {
		return "", false, nil
	}

	trig.CurrentStatus = current

	next := Status("")
	for _, rule := range rules {
		if rule.Status.Order() <= current.Order() {
			continue
		}
		if len(rule.Conditions) == 0 {
			continue
		}

		activated := true
		for _, cond := range rule.Conditions {
			ok, err := Evaluate(cond, trig)
			if err != nil {
				return "", false, err
			}
			if !ok {
				activated = false
				break
			}
		}

		// rules are ordered ascending, so the last activated rule is the
		// highest-ordered one
		if activated {
			next = rule.Status
		}
	}

	if next == "" {
		return "", false, nil
	}
	return next, true, nil
}
