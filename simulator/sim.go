// Simulated encoder module program.
//
// Runs the real firmware loop against a synthetic quadrature source and
// watches the resulting stream through the same client the host tools
// use, all over in-memory pipes. Useful for exercising the whole stack
// without a board on the bench.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rotomod/core"
	"rotomod/host/link"
	"rotomod/protocol"
)

// quad walks the four-state quadrature cycle 00 10 11 01. Only
// transitions of phase A reach the module, matching the single-line
// interrupt wiring on real hardware.
type quad struct {
	m *core.Module
	q int
}

var quadStates = [4][2]bool{{false, false}, {true, false}, {true, true}, {false, true}}

func (s *quad) step(dir int) {
	prevA := quadStates[s.q][0]
	s.q = (s.q + dir + 4) % 4
	st := quadStates[s.q]
	if st[0] != prevA {
		s.m.HandleEdge(st[0], st[1])
	}
}

// count advances one full count: two quadrant steps produce exactly one
// phase A edge.
func (s *quad) count(dir int) {
	s.step(dir)
	s.step(dir)
}

// velocity returns the profile velocity in counts per second at elapsed
// time t.
func velocity(profile string, rate, period, t float64) float64 {
	switch profile {
	case "sine":
		return rate * math.Sin(2*math.Pi*t/period)
	case "square":
		if math.Mod(t, period) < period/2 {
			return rate
		}
		return -rate
	default: // sweep
		return rate
	}
}

// drive feeds edges to the module at the profile velocity until ctx is
// done. Fractional counts accumulate across ticks so slow profiles
// still move.
func drive(ctx context.Context, q *quad, profile string, rate float64, period time.Duration) {
	const tick = 2 * time.Millisecond
	tk := time.NewTicker(tick)
	defer tk.Stop()
	start := time.Now()
	var acc float64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			t := now.Sub(start).Seconds()
			acc += velocity(profile, rate, period.Seconds(), t) * tick.Seconds()
			for acc >= 1 {
				q.count(1)
				acc--
			}
			for acc <= -1 {
				q.count(-1)
				acc++
			}
		}
	}
}

// injectLoop plays the controller: it pushes an event command upstream
// at a fixed interval, tagging each with an incrementing code.
func injectLoop(ctx context.Context, up *protocol.PipeEnd, every time.Duration) {
	tk := time.NewTicker(every)
	defer tk.Stop()
	code := byte(1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			up.Write([]byte{core.OpInjectEvent, code})
			code++
		}
	}
}

type stats struct {
	positions int
	events    int
	last      int16
}

// watch consumes the stream until the pipe closes. Threshold events
// re-arm the whole set so the demo keeps firing; the watcher is the
// only goroutine issuing commands once streaming starts.
func watch(cl *link.Client, logger *slog.Logger, wrapPoint int16, rearm bool) stats {
	var st stats
	for {
		rec, err := cl.ReadRecord()
		if err != nil {
			return st
		}
		switch rec.Kind {
		case protocol.TagPosition:
			st.positions++
			st.last = rec.Pos
			logger.Debug("position",
				"pos", rec.Pos,
				"deg", link.Degrees(rec.Pos, wrapPoint),
				"time_us", rec.Time)
		case protocol.TagEvent:
			st.events++
			source := "external"
			if rec.Source == protocol.SourceThreshold {
				source = "threshold"
			}
			logger.Info("event", "source", source, "code", rec.Code, "time_us", rec.Time)
			if rearm && rec.Source == protocol.SourceThreshold {
				if err := cl.EnableAllThresholds(); err != nil {
					return st
				}
			}
		}
	}
}

func parseThresholds(s string) ([]int16, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int16, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < math.MinInt16 || v > math.MaxInt16 {
			return nil, fmt.Errorf("bad threshold %q", p)
		}
		out = append(out, int16(v))
	}
	return out, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func main() {
	var (
		profile    = flag.String("profile", "sine", "velocity profile: sweep|sine|square")
		rate       = flag.Float64("rate", 200, "peak velocity in counts per second")
		period     = flag.Duration("period", 10*time.Second, "sine/square profile period")
		wrapPoint  = flag.Int("wrap-point", core.DefaultWrapPoint, "wrap point in counts")
		unipolar   = flag.Bool("unipolar", false, "unipolar wrap mode")
		thresholds = flag.String("thresholds", "", "comma-separated threshold positions")
		inject     = flag.Duration("inject", 0, "inject a controller event at this interval (0 = off)")
		duration   = flag.Duration("duration", 0, "stop after this long (0 = until interrupted)")
		logLevel   = flag.String("log-level", "info", "log level: error, warn, info, debug")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	tvals, err := parseThresholds(*thresholds)
	if err != nil {
		logger.Error("bad flags", "error", err)
		os.Exit(1)
	}

	hostNear, hostFar := protocol.NewPipe()
	upNear, upFar := protocol.NewPipe()
	m := core.NewModule(core.Options{Host: hostNear, Upstream: upNear})

	mctx, mcancel := context.WithCancel(context.Background())
	go m.Run(mctx)

	cl := link.NewClient(hostFar.IO())
	if err := cl.Handshake(); err != nil {
		logger.Error("handshake failed", "error", err)
		os.Exit(1)
	}
	if err := cl.SetWrapPoint(int16(*wrapPoint)); err != nil {
		logger.Error("set wrap point", "error", err)
		os.Exit(1)
	}
	if err := cl.SetUnipolar(*unipolar); err != nil {
		logger.Error("set wrap mode", "error", err)
		os.Exit(1)
	}
	if len(tvals) > 0 {
		if err := cl.SetThresholds(tvals); err != nil {
			logger.Error("set thresholds", "error", err)
			os.Exit(1)
		}
		if err := cl.EnableEvents(true); err != nil {
			logger.Error("enable events", "error", err)
			os.Exit(1)
		}
	}
	if err := cl.StartStream(); err != nil {
		logger.Error("start stream", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info("simulating",
		"profile", *profile,
		"rate", *rate,
		"wrap_point", *wrapPoint,
		"thresholds", len(tvals))

	go drive(ctx, &quad{m: m}, *profile, *rate, *period)
	if *inject > 0 {
		go injectLoop(ctx, upFar, *inject)
	}
	go func() {
		<-ctx.Done()
		mcancel()
		hostFar.Close()
		upFar.Close()
	}()

	st := watch(cl, logger, int16(*wrapPoint), len(tvals) > 0)
	logger.Info("simulation finished",
		"positions", st.positions,
		"events", st.events,
		"final_pos", st.last,
		"final_deg", link.Degrees(st.last, int16(*wrapPoint)))
}
