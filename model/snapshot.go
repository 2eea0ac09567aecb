package model

// Snapshot is an immutable view of the parameter
// sequence at one revision.
type Snapshot struct {
	revision   int64
	parameters []float64
}

// Revision returns the revision this snapshot was
// published at
func (snapshot *Snapshot) Revision() int64 {
	return snapshot.revision
}

// Len returns the number of parameters
func (snapshot *Snapshot) Len() int {
	return len(snapshot.parameters)
}

// At returns the i'th parameter. It panics if i is
// out of range.
func (snapshot *Snapshot) At(i int) float64 {
	return snapshot.parameters[i]
}

// Values returns a copy of the parameters. The copy
// belongs to the caller.
func (snapshot *Snapshot) Values() []float64 {
	return copyParameters(snapshot.parameters)
}

// Range calls fn for every parameter in order until
// fn returns false.
func (snapshot *Snapshot) Range(fn func(i int, parameter float64) bool) {
	for i, parameter := range snapshot.parameters {
		if !fn(i, parameter) {
			return
		}
	}
}

func copyParameters(parameters []float64) []float64 {
	c := make([]float64, len(parameters))
	copy(c, parameters)

	return c
}
