package anomaly

import "time"

// Dedup drops events whose (type, entity) pair already has an unresolved
// event detected within the cooldown before now. open holds existing
// events; only those still in StatusNew suppress. Duplicate pairs inside
// events keep the first occurrence. Order is preserved.
func Dedup(events, open []Event, th Thresholds, now time.Time) []Event {
	latest := make(map[Key]time.Time)
	for _, e := range open {
		if e.Status != StatusNew {
			continue
		}
		if t, ok := latest[e.Key()]; !ok || e.DetectedAt.After(t) {
			latest[e.Key()] = e.DetectedAt
		}
	}

	seen := make(map[Key]bool)
	out := make([]Event, 0, len(events))
	for _, e := range events {
		k := e.Key()
		if seen[k] {
			continue
		}
		if t, ok := latest[k]; ok && now.Sub(t) < th.cooldown(e.Type) {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

func (th Thresholds) cooldown(t EventType) time.Duration {
	if t == NewTheme && th.NewThemeCooldown > 0 {
		return th.NewThemeCooldown
	}
	return th.Cooldown
}
