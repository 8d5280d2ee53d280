// Package score turns raw founder activity facts into bounded dimension
// scores and a weighted composite.
package score

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Dimension is one of the five fixed scoring axes.
type Dimension int

const (
	FounderQuality Dimension = iota
	ExecutionVelocity
	MarketConviction
	EarlyTraction
	DealAvailability
)

// NumDimensions is the size of the closed dimension set.
const NumDimensions = 5

var dimensionNames = [NumDimensions]string{
	"founder_quality",
	"execution_velocity",
	"market_conviction",
	"early_traction",
	"deal_availability",
}

// ErrUnknownDimension is returned when a dimension key is not one of the five.
var ErrUnknownDimension = errors.New("unknown dimension")

func (d Dimension) String() string {
	if d < 0 || int(d) >= NumDimensions {
		return fmt.Sprintf("dimension(%d)", int(d))
	}
	return dimensionNames[d]
}

// ParseDimension maps a snake_case key to its Dimension.
func ParseDimension(s string) (Dimension, error) {
	for i, name := range dimensionNames {
		if name == s {
			return Dimension(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// Dimensions returns all dimensions in canonical order.
func Dimensions() []Dimension {
	return []Dimension{FounderQuality, ExecutionVelocity, MarketConviction, EarlyTraction, DealAvailability}
}

// Vector holds one score per dimension, indexed by Dimension.
type Vector [NumDimensions]float64

// Get returns the score for d.
func (v Vector) Get(d Dimension) float64 { return v[d] }

// Map returns the vector keyed by dimension name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, NumDimensions)
	for _, d := range Dimensions() {
		m[d.String()] = v[d]
	}
	return m
}

func (v Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

func (v *Vector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := parseKeyed(m)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Weights holds one non-negative weight per dimension. Weights need not sum
// to one; Composite normalises them.
type Weights [NumDimensions]float64

// DefaultWeights is the pinned product weight table.
func DefaultWeights() Weights {
	return Weights{
		FounderQuality:    0.30,
		ExecutionVelocity: 0.25,
		MarketConviction:  0.20,
		EarlyTraction:     0.15,
		DealAvailability:  0.10,
	}
}

// ParseWeights builds Weights from a name-keyed map. Unknown keys are
// rejected; missing keys weigh zero. Values are validated.
func ParseWeights(m map[string]float64) (Weights, error) {
	v, err := parseKeyed(m)
	if err != nil {
		return Weights{}, err
	}
	w := Weights(v)
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// Map returns the weights keyed by dimension name.
func (w Weights) Map() map[string]float64 {
	return Vector(w).Map()
}

func (w Weights) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Map())
}

func (w *Weights) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := ParseWeights(m)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Validate checks that every weight is finite and non-negative and that at
// least one weight is positive.
func (w Weights) Validate() error {
	var total float64
	for _, d := range Dimensions() {
		x := w[d]
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidWeight, d)
		}
		if x < 0 {
			return fmt.Errorf("%w: %s = %g", ErrNegativeWeight, d, x)
		}
		total += x
	}
	if total <= 0 {
		return ErrZeroWeights
	}
	if math.IsInf(total, 0) {
		return fmt.Errorf("%w: weight sum overflows", ErrInvalidWeight)
	}
	return nil
}

func parseKeyed(m map[string]float64) (Vector, error) {
	var v Vector
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d, err := ParseDimension(k)
		if err != nil {
			return Vector{}, err
		}
		v[d] = m[k]
	}
	return v, nil
}
