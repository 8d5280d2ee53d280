package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elonfeng/scout/pkg/pipeline"
)

type fakeRunner struct {
	collectErr error
	cycleErr   error
	calls      []string
}

func (f *fakeRunner) Collect(ctx context.Context) (int, error) {
	f.calls = append(f.calls, "collect")
	return 1, f.collectErr
}

func (f *fakeRunner) Enrich(ctx context.Context) (int, error) {
	f.calls = append(f.calls, "enrich")
	return 0, errors.New("enricher timed out")
}

func (f *fakeRunner) RunCycle(ctx context.Context) (*pipeline.Report, error) {
	f.calls = append(f.calls, "cycle")
	if f.cycleErr != nil {
		return nil, f.cycleErr
	}
	return &pipeline.Report{CycleID: "c1"}, nil
}

func TestTickOrder(t *testing.T) {
	r := &fakeRunner{}
	New(r, 0, nil).Tick(context.Background())
	if got := len(r.calls); got != 3 || r.calls[0] != "collect" || r.calls[2] != "cycle" {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestTickSkipsCycleOnCollectorOutage(t *testing.T) {
	r := &fakeRunner{collectErr: errors.New("every source failed")}
	New(r, 0, nil).Tick(context.Background())
	if len(r.calls) != 1 {
		t.Errorf("calls = %v, want only collect", r.calls)
	}
}

func TestTickToleratesOverlap(t *testing.T) {
	r := &fakeRunner{cycleErr: pipeline.ErrCycleRunning}
	New(r, 0, nil).Tick(context.Background())
	if len(r.calls) != 3 {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{}
	done := make(chan error, 1)
	go func() { done <- New(r, time.Hour, nil).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
