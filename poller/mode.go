package poller

// PollMode selects how a registration reports readiness.
type PollMode uint8

const (
	// Oneshot delivers a single event, after which interest is cleared until
	// re-armed by [Poller.Modify].
	Oneshot PollMode = iota
	// Level delivers an event on every wait, while the condition holds.
	Level
	// Edge delivers an event only when the condition becomes true.
	Edge
	// EdgeOneshot is Edge, clearing interest after the first event.
	EdgeOneshot
)

func (m PollMode) String() string {
	switch m {
	case Oneshot:
		return `Oneshot`
	case Level:
		return `Level`
	case Edge:
		return `Edge`
	case EdgeOneshot:
		return `EdgeOneshot`
	default:
		return `PollMode(invalid)`
	}
}

func (m PollMode) valid() bool {
	return m <= EdgeOneshot
}

func (m PollMode) oneshot() bool {
	return m == Oneshot || m == EdgeOneshot
}

func (m PollMode) edge() bool {
	return m == Edge || m == EdgeOneshot
}
