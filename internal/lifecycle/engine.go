package lifecycle

// Predicate decides whether the actor may run a transition on the subject.
// A nil return authorizes; any other return is surfaced as forbidden.
type Predicate func(subject any, actor Actor) error

// Rule is one row of a machine's transition table: the source statuses the
// action is legal from, the target status, and the authorization predicate.
// InvalidMsg, when set, overrides the default error text for an illegal
// source status; the original system words these guards per endpoint.
type Rule struct {
	From       []Status
	To         Status
	Authorize  Predicate
	InvalidMsg func(current Status) string
}

// Machine is the transition table for one entity kind. Pairs absent from the
// table are illegal; there is no default transition.
type Machine struct {
	Kind  Kind
	Rules map[Action]Rule
}

// Eval validates (current, action, actor) against the table and returns the
// target status. The acting party is checked first: an unauthorized caller
// always gets forbidden, never a hint about the entity's status. Eval never
// mutates the subject; the caller applies the status write together with its
// side effects as one unit of work.
func (m *Machine) Eval(subject any, current Status, action Action, actor Actor) (Status, error) {
	rule, ok := m.Rules[action]
	if !ok {
		return "", &InvalidTransitionError{Kind: m.Kind, Action: action, Current: current}
	}
	if rule.Authorize != nil {
		if err := rule.Authorize(subject, actor); err != nil {
			return "", err
		}
	}
	if !statusIn(current, rule.From) {
		e := &InvalidTransitionError{Kind: m.Kind, Action: action, Current: current}
		if rule.InvalidMsg != nil {
			e.Message = rule.InvalidMsg(current)
		}
		return "", e
	}
	return rule.To, nil
}

// Legal reports whether the action may run from the given status, ignoring
// authorization. The reconciler and tests use it to enumerate the table.
func (m *Machine) Legal(current Status, action Action) bool {
	rule, ok := m.Rules[action]
	return ok && statusIn(current, rule.From)
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func staffOnly(msg string) Predicate {
	return func(_ any, actor Actor) error {
		if !actor.IsStaff() {
			return forbidden(msg)
		}
		return nil
	}
}
