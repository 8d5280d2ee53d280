// Package cluster groups founder profile vectors into themes of mutually
// similar builders. Points that fit no qualifying group are left as noise.
//
// Similarity is computed pairwise, which is O(n²) in the number of founders
// active in the window. That is fine for hundreds of founders and is the
// known scaling limit of this package; beyond a few thousand active founders
// an approximate nearest-neighbour index would be needed.
package cluster

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

// ErrInsufficientData means too few usable points were active to form even
// one cluster. Callers skip clustering for the cycle and keep prior themes.
var ErrInsufficientData = errors.New("insufficient data for clustering")

// Point is one founder's profile embedding.
type Point struct {
	ID       string
	Vector   []float64
	ActiveAt time.Time
}

// Prior is a theme from the previous pass with its active members.
type Prior struct {
	ThemeID string
	Members []string
}

// Params are the tunable clustering knobs.
type Params struct {
	MinClusterSize int
	Threshold      float64
	Window         time.Duration
}

// DefaultParams returns min size 3, cosine threshold 0.72 and a 14 day window.
func DefaultParams() Params {
	return Params{MinClusterSize: 3, Threshold: 0.72, Window: 14 * 24 * time.Hour}
}

// Member is a founder in a cluster with its similarity to the centroid.
type Member struct {
	FounderID  string  `json:"founder_id"`
	Similarity float64 `json:"similarity"`
}

// Cluster is one detected group. ThemeID is the prior theme this cluster
// continues, or empty for a brand new group.
type Cluster struct {
	ThemeID  string
	Members  []Member
	Centroid []float64
	// Density is the mean pairwise cosine similarity among members.
	Density float64
}

// MemberIDs returns the founder ids in the cluster, sorted.
func (c Cluster) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.FounderID
	}
	return ids
}

// Result is the outcome of one clustering pass.
type Result struct {
	Clusters []Cluster
	// Noise holds eligible founders that belong to no cluster.
	Noise []string
	// Skipped holds founders left out entirely: outside the window, zero
	// vectors, or a vector dimension that differs from the rest.
	Skipped []string
}

// Overlaps reports whether more than half of current also appears in prior.
func Overlaps(current, prior []string) bool {
	return 2*overlapCount(current, prior) > len(current)
}

func overlapCount(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	n := 0
	for _, id := range a {
		if set[id] {
			n++
		}
	}
	return n
}

// Detect clusters points active within p.Window of now. Prior clusters are
// retained first so that founders only leave a theme when their similarity
// to its centroid falls below the threshold. Remaining points may join an
// existing cluster if they are within threshold of every member, and then
// form new groups as greedy mutual cliques of at least p.MinClusterSize.
// Ties at exactly the threshold count as similar. Output is sorted and
// independent of input order.
func Detect(points []Point, priors []Prior, p Params, now time.Time) (Result, error) {
	if p.MinClusterSize < 2 {
		p.MinClusterSize = 2
	}

	d := newDetector(points, p, now)
	if len(d.ids) < p.MinClusterSize {
		return Result{Skipped: d.skipped}, ErrInsufficientData
	}

	d.retain(priors)
	d.join()
	d.formCliques()
	return d.result(priors), nil
}

type group struct {
	themeID string
	members []int
}

type detector struct {
	p       Params
	ids     []string
	index   map[string]int
	unit    [][]float64
	sim     [][]float64
	owner   []int // index into groups, -1 when free
	groups  []*group
	skipped []string
}

func newDetector(points []Point, p Params, now time.Time) *detector {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	d := &detector{p: p, index: make(map[string]int)}
	cutoff := now.Add(-p.Window)
	dim := -1
	for _, pt := range sorted {
		if _, dup := d.index[pt.ID]; dup {
			continue
		}
		if p.Window > 0 && pt.ActiveAt.Before(cutoff) {
			d.skipped = append(d.skipped, pt.ID)
			continue
		}
		if dim == -1 && len(pt.Vector) > 0 {
			dim = len(pt.Vector)
		}
		n := floats.Norm(pt.Vector, 2)
		if len(pt.Vector) != dim || n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			d.skipped = append(d.skipped, pt.ID)
			continue
		}
		u := make([]float64, dim)
		floats.ScaleTo(u, 1/n, pt.Vector)
		d.index[pt.ID] = len(d.ids)
		d.ids = append(d.ids, pt.ID)
		d.unit = append(d.unit, u)
	}

	n := len(d.ids)
	d.sim = make([][]float64, n)
	for i := range d.sim {
		d.sim[i] = make([]float64, n)
		d.sim[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := floats.Dot(d.unit[i], d.unit[j])
			d.sim[i][j], d.sim[j][i] = s, s
		}
	}
	d.owner = make([]int, n)
	for i := range d.owner {
		d.owner[i] = -1
	}
	return d
}

func (d *detector) similar(i, j int) bool { return d.sim[i][j] >= d.p.Threshold }

// centroid returns the normalised mean of the members' unit vectors.
func (d *detector) centroid(members []int) []float64 {
	c := make([]float64, len(d.unit[members[0]]))
	for _, m := range members {
		floats.Add(c, d.unit[m])
	}
	if n := floats.Norm(c, 2); n > 0 {
		floats.Scale(1/n, c)
	}
	return c
}

// stable reports whether every member is within threshold of the centroid.
func (d *detector) stable(members []int) bool {
	c := d.centroid(members)
	for _, m := range members {
		if floats.Dot(d.unit[m], c) < d.p.Threshold {
			return false
		}
	}
	return true
}

// retain keeps each prior cluster's present members, repeatedly dropping
// those below threshold of the centroid until none drop. A retained cluster
// needs at least two members.
func (d *detector) retain(priors []Prior) {
	ordered := make([]Prior, len(priors))
	copy(ordered, priors)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ThemeID < ordered[j].ThemeID })

	for _, pr := range ordered {
		var members []int
		for _, id := range pr.Members {
			if i, ok := d.index[id]; ok && d.owner[i] == -1 && !containsInt(members, i) {
				members = append(members, i)
			}
		}
		sort.Ints(members)

		for len(members) >= 2 {
			c := d.centroid(members)
			kept := members[:0:0]
			for _, m := range members {
				if floats.Dot(d.unit[m], c) >= d.p.Threshold {
					kept = append(kept, m)
				}
			}
			if len(kept) == len(members) {
				break
			}
			members = kept
		}
		if len(members) < 2 {
			continue
		}
		d.addGroup(pr.ThemeID, members)
	}
}

// join attaches free points to existing clusters until no more can join. A
// point joins only if it is similar to every member and the enlarged cluster
// keeps every member within threshold of its centroid.
func (d *detector) join() {
	for {
		joined := false
		for i := range d.ids {
			if d.owner[i] != -1 {
				continue
			}
			best, bestMean := -1, -1.0
			for gi, g := range d.groups {
				if !d.allSimilar(i, g.members) {
					continue
				}
				grown := append(append([]int(nil), g.members...), i)
				sort.Ints(grown)
				if !d.stable(grown) {
					continue
				}
				var sum float64
				for _, m := range g.members {
					sum += d.sim[i][m]
				}
				if mean := sum / float64(len(g.members)); mean > bestMean {
					best, bestMean = gi, mean
				}
			}
			if best >= 0 {
				g := d.groups[best]
				g.members = append(g.members, i)
				sort.Ints(g.members)
				d.owner[i] = best
				joined = true
			}
		}
		if !joined {
			return
		}
	}
}

// formCliques builds new clusters among free points. Each pass orders seeds
// by how many free neighbours they have (then by id) and grows a clique from
// each seed, taking candidates in order of similarity to the seed (then by
// id). Passes repeat until one forms nothing.
func (d *detector) formCliques() {
	for {
		free := d.free()
		degree := make(map[int]int, len(free))
		for _, i := range free {
			for _, j := range free {
				if i != j && d.similar(i, j) {
					degree[i]++
				}
			}
		}
		seeds := append([]int(nil), free...)
		sort.SliceStable(seeds, func(a, b int) bool {
			if degree[seeds[a]] != degree[seeds[b]] {
				return degree[seeds[a]] > degree[seeds[b]]
			}
			return seeds[a] < seeds[b]
		})

		formed := false
		for _, s := range seeds {
			if d.owner[s] != -1 || degree[s]+1 < d.p.MinClusterSize {
				continue
			}
			var cands []int
			for _, j := range free {
				if j != s && d.owner[j] == -1 && d.similar(s, j) {
					cands = append(cands, j)
				}
			}
			sort.SliceStable(cands, func(a, b int) bool {
				sa, sb := d.sim[s][cands[a]], d.sim[s][cands[b]]
				if sa != sb {
					return sa > sb
				}
				return cands[a] < cands[b]
			})
			clique := []int{s}
			for _, c := range cands {
				if d.allSimilar(c, clique) {
					clique = append(clique, c)
				}
			}
			if len(clique) < d.p.MinClusterSize {
				continue
			}
			sort.Ints(clique)
			d.addGroup("", clique)
			formed = true
		}
		if !formed {
			return
		}
	}
}

func (d *detector) allSimilar(i int, members []int) bool {
	for _, m := range members {
		if !d.similar(i, m) {
			return false
		}
	}
	return true
}

func (d *detector) free() []int {
	var out []int
	for i, o := range d.owner {
		if o == -1 {
			out = append(out, i)
		}
	}
	return out
}

func (d *detector) addGroup(themeID string, members []int) {
	g := &group{themeID: themeID, members: members}
	d.groups = append(d.groups, g)
	for _, m := range members {
		d.owner[m] = len(d.groups) - 1
	}
}

// result builds the sorted output. New groups inherit a prior theme id when
// a majority of their members belonged to an otherwise unclaimed prior.
func (d *detector) result(priors []Prior) Result {
	claimed := make(map[string]bool)
	for _, g := range d.groups {
		if g.themeID != "" {
			claimed[g.themeID] = true
		}
	}

	res := Result{Skipped: d.skipped}
	for _, g := range d.groups {
		c := Cluster{ThemeID: g.themeID, Centroid: d.centroid(g.members)}
		for _, m := range g.members {
			c.Members = append(c.Members, Member{
				FounderID:  d.ids[m],
				Similarity: floats.Dot(d.unit[m], c.Centroid),
			})
		}
		c.Density = d.density(g.members)
		if c.ThemeID == "" {
			c.ThemeID = matchPrior(c.MemberIDs(), priors, claimed)
			if c.ThemeID != "" {
				claimed[c.ThemeID] = true
			}
		}
		res.Clusters = append(res.Clusters, c)
	}
	sort.Slice(res.Clusters, func(i, j int) bool {
		return res.Clusters[i].Members[0].FounderID < res.Clusters[j].Members[0].FounderID
	})

	for i, o := range d.owner {
		if o == -1 {
			res.Noise = append(res.Noise, d.ids[i])
		}
	}
	return res
}

func (d *detector) density(members []int) float64 {
	if len(members) < 2 {
		return 1
	}
	var sum float64
	var pairs int
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			sum += d.sim[members[a]][members[b]]
			pairs++
		}
	}
	return sum / float64(pairs)
}

func matchPrior(current []string, priors []Prior, claimed map[string]bool) string {
	best, bestOverlap := "", 0
	for _, pr := range priors {
		if claimed[pr.ThemeID] || !Overlaps(current, pr.Members) {
			continue
		}
		n := overlapCount(current, pr.Members)
		if n > bestOverlap || (n == bestOverlap && pr.ThemeID < best) {
			best, bestOverlap = pr.ThemeID, n
		}
	}
	return best
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
