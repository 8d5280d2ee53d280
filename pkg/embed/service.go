package embed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/scout/internal/logging"
)

// Embedder is the external embedding capability.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Cached is a stored embedding and the hash of the text it was built from.
type Cached struct {
	Hash   string
	Vector []float64
}

// Result is the outcome of embedding a batch of founders.
type Result struct {
	// Vectors holds a usable vector for every founder that has one.
	Vectors map[string][]float64
	// Updated holds freshly computed entries to persist.
	Updated map[string]Cached
	// Failed lists founders with no usable vector this cycle, sorted.
	Failed []string
	Reused int
}

// Service embeds founder profiles concurrently, reusing cached vectors whose
// content hash is unchanged.
type Service struct {
	embedder    Embedder
	opts        TextOptions
	concurrency int
	timeout     time.Duration
	logger      *log.Logger
}

// Options configures a Service.
type Options struct {
	Text        TextOptions
	Concurrency int
	Timeout     time.Duration
	Logger      *log.Logger
}

// NewService creates a Service around e.
func NewService(e Embedder, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{
		embedder:    e,
		opts:        opts.Text,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		logger:      logging.OrDiscard(opts.Logger),
	}
}

// Embed returns a vector for each profile. Cache hits are reused. Misses are
// embedded one founder per call under a timeout, with bounded parallelism.
// A founder whose call fails, times out or returns an unusable vector is
// listed in Failed; the batch as a whole never fails.
func (s *Service) Embed(ctx context.Context, profiles []Profile, cache map[string]Cached) Result {
	res := Result{
		Vectors: make(map[string][]float64),
		Updated: make(map[string]Cached),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, p := range profiles {
		text := ProfileText(p, s.opts)
		if text == "" {
			res.Failed = append(res.Failed, p.FounderID)
			continue
		}
		hash := ContentHash(text)
		if c, ok := cache[p.FounderID]; ok && c.Hash == hash && len(c.Vector) > 0 {
			res.Vectors[p.FounderID] = c.Vector
			res.Reused++
			continue
		}

		id := p.FounderID
		g.Go(func() error {
			vec, err := s.embedOne(ctx, text)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("embedding skipped", "founder_id", id, "err", err)
				res.Failed = append(res.Failed, id)
				return nil
			}
			res.Vectors[id] = vec
			res.Updated[id] = Cached{Hash: hash, Vector: vec}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Failed)
	return res
}

func (s *Service) embedOne(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}
