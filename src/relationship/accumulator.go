package relationship

import "parley/src/model"

// Accumulator sums the deltas of one chat session into AppState.CumulativeDelta. It does no
// locking: callers serialize Merge calls.
type Accumulator struct {
	state *model.AppState
}

func NewAccumulator(state *model.AppState) *Accumulator {
	return &Accumulator{state: state}
}

// Merge stores d verbatim when nothing has accumulated yet, otherwise adds the metrics and
// appends d's description on a new line.
func (a *Accumulator) Merge(d model.Delta) {
	cur := a.state.CumulativeDelta
	if cur == nil {
		merged := d
		a.state.CumulativeDelta = &merged
		return
	}
	cur.Metrics = cur.Metrics.Add(d.Metrics)
	cur.Description = cur.Description + "\n" + d.Description
}

// Peek returns a copy of the cumulative delta.
func (a *Accumulator) Peek() (model.Delta, bool) {
	if a.state.CumulativeDelta == nil {
		return model.Delta{}, false
	}
	return *a.state.CumulativeDelta, true
}

func (a *Accumulator) Clear() {
	a.state.CumulativeDelta = nil
}
