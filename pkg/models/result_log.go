package models

// ResultLog is the ordered, append-only record of command outcomes for the
// current run. It is owned by a single orchestrator and is not safe for
// concurrent use.
type ResultLog struct {
	entries []CommandOutcome
}

// NewResultLog returns an empty log.
func NewResultLog() *ResultLog {
	return &ResultLog{}
}

// Append records an outcome at the end of the log.
func (l *ResultLog) Append(o CommandOutcome) {
	l.entries = append(l.entries, o)
}

// Entries returns a copy of the outcomes in insertion order.
func (l *ResultLog) Entries() []CommandOutcome {
	out := make([]CommandOutcome, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded outcomes.
func (l *ResultLog) Len() int {
	return len(l.entries)
}

// Failed reports whether any recorded outcome has a non-zero exit code.
func (l *ResultLog) Failed() bool {
	return AnyFailed(l.entries)
}

// Reset empties the log. Called once a notification has been dispatched.
func (l *ResultLog) Reset() {
	l.entries = nil
}

// AnyFailed reports whether any outcome has a non-zero exit code.
func AnyFailed(outcomes []CommandOutcome) bool {
	for _, o := range outcomes {
		if !o.Succeeded() {
			return true
		}
	}
	return false
}
