package authz

// Outcome is the terminal state of one pipeline run.
type Outcome int

const (
	Proceed Outcome = iota
	Blocked
	Prompted
)

func (o Outcome) String() string {
	switch o {
	case Blocked:
		return "blocked"
	case Prompted:
		return "prompted"
	default:
		return "proceed"
	}
}

// Kind says why a run did not proceed.
type Kind int

const (
	KindNone Kind = iota
	KindNotStarted
	KindSuspended
	KindTermsNotAccepted
	KindPrefixModeRequired
)

func (k Kind) String() string {
	switch k {
	case KindNotStarted:
		return "not_started"
	case KindSuspended:
		return "suspended"
	case KindTermsNotAccepted:
		return "terms_not_accepted"
	case KindPrefixModeRequired:
		return "prefix_mode_required"
	default:
		return "none"
	}
}

// Decision is the tagged result of Authorize. Reason carries the suspension
// reason when one was recorded; Hint is user guidance for NotStarted.
type Decision struct {
	Outcome Outcome
	Kind    Kind
	Stage   string
	Reason  *string
	Hint    string
}

func proceed() Decision {
	return Decision{Outcome: Proceed}
}

// Equal compares decisions by value, including the reason text.
func (d Decision) Equal(other Decision) bool {
	if d.Outcome != other.Outcome || d.Kind != other.Kind || d.Stage != other.Stage || d.Hint != other.Hint {
		return false
	}
	if d.Reason == nil || other.Reason == nil {
		return d.Reason == other.Reason
	}
	return *d.Reason == *other.Reason
}
