package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chartcore/internal/chart"
	"chartcore/internal/logger"
	"chartcore/internal/model"
)

type scriptedPrice struct {
	mu     sync.Mutex
	prices []model.NullFloat
	i      int
}

func (s *scriptedPrice) next() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.i >= len(s.prices) {
		return 0, false
	}
	p := s.prices[s.i]
	s.i++
	return p.Get()
}

// identity maps price 1:1 to pixels.
type identity struct{}

func (identity) PriceToPixelY(p model.NullFloat) model.NullFloat { return p }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(250 * time.Millisecond)
	return c.now
}

func TestNew_IntervalFloor(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, MinInterval},
		{time.Millisecond, MinInterval},
		{MinInterval, MinInterval},
		{time.Second, time.Second},
	}
	for _, tt := range tests {
		d, err := New(Config{Interval: tt.in, LastPrice: func() (float64, bool) { return 0, false }, Mapper: identity{}, OnTick: func(context.Context, Tick) {}})
		if err != nil {
			t.Fatal(err)
		}
		if got := d.Interval(); got != tt.want {
			t.Errorf("Interval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestStep_EvaluatesOnlyMappedPairs(t *testing.T) {
	src := &scriptedPrice{prices: []model.NullFloat{
		model.None(),   // no quote yet
		model.Some(95), // first mapped sample, no previous
		model.Some(105),
		model.None(), // quote lost
		model.Some(101),
		model.Some(99),
	}}
	clock := &fakeClock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}

	var ticks []Tick
	var traces []string
	d, err := New(Config{
		Symbol:    "BTCUSD",
		LastPrice: src.next,
		Mapper:    identity{},
		Now:       clock.Now,
		OnTick: func(ctx context.Context, tk Tick) {
			ticks = append(ticks, tk)
			traces = append(traces, logger.TraceID(ctx))
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	for range src.prices {
		d.Step(context.Background())
	}

	if len(ticks) != 2 {
		t.Fatalf("ticks = %+v, want 2", ticks)
	}
	if ticks[0].PrevY != 95 || ticks[0].CurrY != 105 || ticks[0].Price != 105 {
		t.Errorf("first tick = %+v", ticks[0])
	}
	if ticks[1].PrevY != 101 || ticks[1].CurrY != 99 {
		t.Errorf("second tick = %+v", ticks[1])
	}
	if !ticks[1].Now.After(ticks[0].Now) {
		t.Error("tick times not increasing")
	}
	if traces[0] == "" || traces[0] == traces[1] {
		t.Errorf("trace ids = %v", traces)
	}
}

func TestStep_UnattachedChartNeverEvaluates(t *testing.T) {
	m := chart.NewMapper()
	var calls int
	d, err := New(Config{
		LastPrice: func() (float64, bool) { return 100, true },
		Mapper:    m,
		OnTick:    func(context.Context, Tick) { calls++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		d.Step(context.Background())
	}
	if calls != 0 {
		t.Fatalf("OnTick called %d times without a price mapping", calls)
	}

	chart.Attach(m, chart.LinearPriceScale{Top: 0, Bottom: 400, Min: 50, Max: 150}, chart.LinearTimeScale{})
	d.Step(context.Background())
	d.Step(context.Background())
	if calls != 1 {
		t.Fatalf("OnTick called %d times after attach, want 1", calls)
	}
}

func TestStart_ImmediateFirstTickAndIdempotentStop(t *testing.T) {
	var polls atomic.Int32
	first := make(chan struct{})
	d, err := New(Config{
		Interval: time.Hour,
		LastPrice: func() (float64, bool) {
			if polls.Add(1) == 1 {
				close(first)
			}
			return 100, true
		},
		Mapper: identity{},
		OnTick: func(context.Context, Tick) {},
	})
	if err != nil {
		t.Fatal(err)
	}

	stop := d.Start(context.Background())
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not fire immediately")
	}

	stop()
	stop()
	<-d.Done()

	if n := polls.Load(); n != 1 {
		t.Errorf("polls = %d, want 1", n)
	}

	// second start is refused
	again := d.Start(context.Background())
	again()
}

func TestStart_TicksUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	price := 90.0
	var mu sync.Mutex
	d, err := New(Config{
		Interval: MinInterval,
		LastPrice: func() (float64, bool) {
			mu.Lock()
			defer mu.Unlock()
			price += 1
			return price, true
		},
		Mapper: identity{},
		OnTick: func(context.Context, Tick) { ticks.Add(1) },
	})
	if err != nil {
		t.Fatal(err)
	}

	stop := d.Start(context.Background())
	deadline := time.Now().Add(3 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	stop()
	<-d.Done()
	n := ticks.Load()
	if n < 2 {
		t.Fatalf("ticks = %d, want at least 2", n)
	}

	time.Sleep(MinInterval + 100*time.Millisecond)
	if after := ticks.Load(); after != n {
		t.Errorf("ticked after stop: %d -> %d", n, after)
	}
}

func TestStart_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d, err := New(Config{
		LastPrice: func() (float64, bool) { return 1, true },
		Mapper:    identity{},
		OnTick:    func(context.Context, Tick) {},
	})
	if err != nil {
		t.Fatal(err)
	}
	stop := d.Start(ctx)
	defer stop()
	cancel()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after context cancel")
	}
}

func TestStart_StopFromOnTick(t *testing.T) {
	var (
		stop  func()
		ready = make(chan struct{})
		ticks atomic.Int32
		price = 100.0
	)
	d, err := New(Config{
		Interval: MinInterval,
		LastPrice: func() (float64, bool) {
			price++
			return price, true
		},
		Mapper: identity{},
		OnTick: func(context.Context, Tick) {
			ticks.Add(1)
			<-ready
			stop()
			stop()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	stop = d.Start(context.Background())
	close(ready)

	select {
	case <-d.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit after stop from OnTick")
	}
	if n := ticks.Load(); n != 1 {
		t.Errorf("ticks = %d, want 1", n)
	}
}

func TestStart_StopFromOnSample(t *testing.T) {
	var stop func()
	ready := make(chan struct{})
	d, err := New(Config{
		LastPrice: func() (float64, bool) { return 1, true },
		Mapper:    identity{},
		OnTick:    func(context.Context, Tick) {},
		OnSample: func(model.NullFloat, model.NullFloat) {
			<-ready
			stop()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	stop = d.Start(context.Background())
	close(ready)

	select {
	case <-d.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit after stop from OnSample")
	}
}
