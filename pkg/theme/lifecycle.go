package theme

// Stage is a theme's lifecycle stage.
type Stage string

const (
	Nascent     Stage = "nascent"
	Emerging    Stage = "emerging"
	Established Stage = "established"
	Saturated   Stage = "saturated"
)

func (s Stage) rank() int {
	switch s {
	case Nascent:
		return 1
	case Emerging:
		return 2
	case Established:
		return 3
	case Saturated:
		return 4
	}
	return 0
}

// Lifecycle holds the stage thresholds.
type Lifecycle struct {
	EmergingAt    int `yaml:"emerging_at"`
	EstablishedAt int `yaml:"established_at"`
	SaturatedAt   int `yaml:"saturated_at"`
	// DowngradeAfter is how many consecutive cycles below a stage are
	// needed before the stage drops.
	DowngradeAfter int `yaml:"downgrade_after"`
}

// DefaultLifecycle returns 4 / 8 / 15 builders and a two cycle downgrade.
func DefaultLifecycle() Lifecycle {
	return Lifecycle{EmergingAt: 4, EstablishedAt: 8, SaturatedAt: 15, DowngradeAfter: 2}
}

// Target is the stage the current builder count and press attention call
// for, before hysteresis. Reaching established requires external mentions.
func (l Lifecycle) Target(builders, mentions int) Stage {
	switch {
	case builders >= l.EstablishedAt && mentions > 0 && builders >= l.SaturatedAt:
		return Saturated
	case builders >= l.EstablishedAt && mentions > 0:
		return Established
	case builders >= l.EmergingAt:
		return Emerging
	}
	return Nascent
}

// Advance moves from current toward target. Upgrades apply at once. A
// downgrade only applies once the target has been lower for DowngradeAfter
// consecutive cycles; strikes counts those cycles and resets otherwise.
func (l Lifecycle) Advance(current Stage, strikes int, target Stage) (Stage, int) {
	if current.rank() == 0 || target.rank() >= current.rank() {
		return target, 0
	}
	strikes++
	need := l.DowngradeAfter
	if need < 1 {
		need = 1
	}
	if strikes >= need {
		return target, 0
	}
	return current, strikes
}
