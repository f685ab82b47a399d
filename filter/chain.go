package filter

import "fmt"

// Spec describes a filter before the sampling rate of its stream is known.
type Spec struct {
	Kind    Kind
	Cutoffs []float64
}

// Validate checks everything about s that does not depend on the sampling
// rate.
func (s Spec) Validate() error {
	return validate(s.Kind, s.Cutoffs)
}

// Build designs the filter for samplingRate.
func (s Spec) Build(samplingRate float64) (*Filter, error) {
	return New(s.Kind, samplingRate, s.Cutoffs...)
}

func (s Spec) String() string {
	return fmt.Sprintf("%v%v", s.Kind, s.Cutoffs)
}

// Chain applies filters in order.
type Chain []*Filter

// NewChain builds every spec for samplingRate, keeping their order.
func NewChain(samplingRate float64, specs ...Spec) (Chain, error) {
	c := make(Chain, 0, len(specs))
	for i, s := range specs {
		f, err := s.Build(samplingRate)
		if err != nil {
			return nil, fmt.Errorf("filter: could not build stage %d (%v): %w", i, s, err)
		}
		c = append(c, f)
	}
	return c, nil
}

// Apply runs x through every stage of the chain.
func (c Chain) Apply(x float64) float64 {
	for _, f := range c {
		x = f.Apply(x)
	}
	return x
}
