package resource

// Failure accumulates the sample points at which one rule failed. Values
// holds one tuple of compared values per failing sample, described
// positionally by Labels.
type Failure struct {
	Times  []int64
	Values [][]float64
	Labels []string
}

// Append records one failing sample.
func (f *Failure) Append(ts int64, values ...float64) {
	f.Times = append(f.Times, ts)
	f.Values = append(f.Values, values)
}

// Empty reports whether no sample failed.
func (f *Failure) Empty() bool { return f == nil || len(f.Times) == 0 }

// Merge concatenates another failure's samples onto this one, preserving
// chunk order. Labels are constant per rule, so the first non-empty set
// wins.
func (f *Failure) Merge(other *Failure) {
	if other.Empty() {
		return
	}

	f.Times = append(f.Times, other.Times...)
	f.Values = append(f.Values, other.Values...)
	if len(f.Labels) == 0 {
		f.Labels = other.Labels
	}
}

// RuleResult is the outcome of one rule over one chunk or file. Exactly one
// of Flat and Members is set: flat rules report a single failure stream,
// replica-set-scoped rules report one per member.
type RuleResult struct {
	Flat       *Failure
	Members    map[string]*Failure
	Additional map[string]interface{}
}

// OK reports whether the result records no failures at all.
func (r *RuleResult) OK() bool {
	if r == nil {
		return true
	}
	if !r.Flat.Empty() {
		return false
	}
	for _, failure := range r.Members {
		if !failure.Empty() {
			return false
		}
	}

	return true
}

// Merge combines a later chunk's result into this one: flat failures
// concatenate, member-scoped failures merge per member. Additional metadata
// from the later result wins.
func (r *RuleResult) Merge(other *RuleResult) {
	if other == nil {
		return
	}

	if other.Flat != nil {
		if r.Flat == nil {
			r.Flat = &Failure{}
		}
		r.Flat.Merge(other.Flat)
	}

	if len(other.Members) > 0 {
		if r.Members == nil {
			r.Members = map[string]*Failure{}
		}
		for member, failure := range other.Members {
			if _, ok := r.Members[member]; !ok {
				r.Members[member] = &Failure{}
			}
			r.Members[member].Merge(failure)
		}
	}

	if len(other.Additional) > 0 {
		if r.Additional == nil {
			r.Additional = map[string]interface{}{}
		}
		for key, value := range other.Additional {
			r.Additional[key] = value
		}
	}
}
