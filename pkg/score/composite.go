package score

import (
	"errors"
	"math"
)

var (
	ErrNegativeWeight = errors.New("negative weight")
	ErrInvalidWeight  = errors.New("invalid weight")
	ErrZeroWeights    = errors.New("weights must include at least one positive value")
)

// Composite is the single shared composite rule used by the pipeline, the
// preview endpoint and the CLI. Weights are divided by their sum, applied to
// the clamped dimension scores in canonical dimension order, and the sum is
// rounded half away from zero.
func Composite(v Vector, w Weights) (int, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}

	var total float64
	for _, d := range Dimensions() {
		total += w[d]
	}

	var sum float64
	for _, d := range Dimensions() {
		sum += (w[d] / total) * clamp(v[d])
	}
	return int(clamp(math.Round(sum))), nil
}
