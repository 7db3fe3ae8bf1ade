package models

// Result is the outcome of one build pass. Every unit of the pass's working
// set appears in exactly one of the two maps.
type Result struct {
	Successes map[BuildUnit]ArtifactLocation `json:"successes"`
	Failures  map[BuildUnit]FailureReason    `json:"failures"`
}

// NewResult returns an empty result.
func NewResult() *Result {
	return &Result{
		Successes: make(map[BuildUnit]ArtifactLocation),
		Failures:  make(map[BuildUnit]FailureReason),
	}
}

// Fail records reason for unit unless the unit already has an outcome.
// It reports whether the reason was recorded.
func (r *Result) Fail(unit BuildUnit, reason FailureReason) bool {
	if _, ok := r.Failures[unit]; ok {
		return false
	}
	if _, ok := r.Successes[unit]; ok {
		return false
	}
	r.Failures[unit] = reason
	return true
}

// Merge copies every outcome of other into r. Outcomes already present in r win.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	for u, reason := range other.Failures {
		r.Fail(u, reason)
	}
	for u, loc := range other.Successes {
		if _, failed := r.Failures[u]; failed {
			continue
		}
		if _, ok := r.Successes[u]; !ok {
			r.Successes[u] = loc
		}
	}
}

// Units returns every unit with an outcome, sorted.
func (r *Result) Units() []BuildUnit {
	units := make([]BuildUnit, 0, len(r.Successes)+len(r.Failures))
	for u := range r.Successes {
		units = append(units, u)
	}
	for u := range r.Failures {
		units = append(units, u)
	}
	SortUnits(units)
	return units
}

// Missing returns the units of ws that have no outcome in r, sorted.
func (r *Result) Missing(ws WorkingSet) []BuildUnit {
	var missing []BuildUnit
	for u := range ws {
		_, ok := r.Successes[u]
		_, failed := r.Failures[u]
		if !ok && !failed {
			missing = append(missing, u)
		}
	}
	SortUnits(missing)
	return missing
}

// CountByReason tallies failures per reason.
func (r *Result) CountByReason() map[FailureReason]int {
	counts := make(map[FailureReason]int)
	for _, reason := range r.Failures {
		counts[reason]++
	}
	return counts
}
