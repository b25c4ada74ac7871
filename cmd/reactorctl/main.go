// Command reactorctl runs the library's literal scenario suite and prints
// graph statistics, grounded on junjiewwang-perf-analysis's cobra+viper CLI
// layout.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leofalp/reactor"
	"github.com/leofalp/reactor/internal/observability"
	"github.com/leofalp/reactor/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reactorctl",
		Short: "Inspect and exercise the reactive propagation core",
	}

	root.PersistentFlags().String("engine", "topo-seq", "engine: topo-seq|topo-par|pulse|source|flood")
	_ = viper.BindPFlag("engine", root.PersistentFlags().Lookup("engine"))
	root.PersistentFlags().String("metrics-addr", "", "address to serve /metrics on, e.g. :9090 (disabled if empty)")
	_ = viper.BindPFlag("metrics-addr", root.PersistentFlags().Lookup("metrics-addr"))
	viper.SetEnvPrefix("reactor")
	viper.AutomaticEnv()

	root.AddCommand(newScenarioCmd())
	root.AddCommand(newGraphCmd())
	return root
}

// newProvider builds the ambient logging/tracing/metrics provider every
// subcommand installs on its graph, reading its level from REACTOR_LOG_LEVEL.
func newProvider() *observability.SlogProvider {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: observability.GetLogLevelFromEnv(),
	}))
	return observability.NewSlogProvider(logger)
}

// maybeStartMetrics does nothing unless --metrics-addr is set; then it
// registers collector against a fresh registry and serves it over HTTP in
// the background. Callers can read the collector's Snapshot() either way.
func maybeStartMetrics(collector *metrics.Collector) {
	addr := viper.GetString("metrics-addr")
	if addr == "" {
		return
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}

func engineFromFlag() reactor.EngineKind {
	switch strings.ToLower(viper.GetString("engine")) {
	case "topo-par":
		return reactor.TopoSortParallel
	case "pulse":
		return reactor.PulseCount
	case "source":
		return reactor.SourceSet
	case "flood":
		return reactor.Flooding
	default:
		return reactor.TopoSortSequential
	}
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario run <name>",
		Short: "Run one of the literal end-to-end scenarios",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "diamond":
				return runDiamondScenario()
			case "sumfold":
				return runSumFoldScenario()
			default:
				return fmt.Errorf("unknown scenario %q", args[0])
			}
		},
	}
	return cmd
}

// runDiamondScenario replays scenario 1 from the literal end-to-end suite:
// w=60, h=70, d=8; area=w*h; volume=area*d; set w=90, d=80 in one
// transaction; volume must end up 90*70*80.
func runDiamondScenario() error {
	collector := metrics.NewCollector()
	maybeStartMetrics(collector)
	g := reactor.New(
		reactor.WithEngine(engineFromFlag()),
		reactor.WithObservability(newProvider()),
		reactor.WithMetrics(collector),
	)
	defer g.Close()

	var w, h, d int64 = 60, 70, 8
	var mu sync.Mutex

	var area, volume int64

	// Input nodes have no update of their own: SetInput's apply callback is
	// the engine's sole authority on whether a write changed the value.
	wHandle := g.MakeNode(reactor.FlagInput, func(int64) reactor.UpdateResult {
		return reactor.Unchanged
	}, nil)
	dHandle := g.MakeNode(reactor.FlagInput, func(int64) reactor.UpdateResult {
		return reactor.Unchanged
	}, nil)
	hHandle := g.MakeNode(reactor.FlagInput, func(int64) reactor.UpdateResult {
		return reactor.Unchanged
	}, nil)

	areaHandle := g.MakeNode(0, func(int64) reactor.UpdateResult {
		mu.Lock()
		defer mu.Unlock()
		next := w * h
		if next == area {
			return reactor.Unchanged
		}
		area = next
		return reactor.Changed
	}, nil)
	_ = g.Attach(areaHandle, wHandle)
	_ = g.Attach(areaHandle, hHandle)

	volumeHandle := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
		mu.Lock()
		defer mu.Unlock()
		next := area * d
		if next == volume {
			return reactor.Unchanged
		}
		volume = next
		return reactor.Changed
	}, nil)
	_ = g.Attach(volumeHandle, areaHandle)
	_ = g.Attach(volumeHandle, dHandle)

	g.WithTransaction(context.Background(), func() {
		g.SetInput(wHandle, func() bool {
			mu.Lock()
			defer mu.Unlock()
			changed := w != 90
			w = 90
			return changed
		})
		g.SetInput(dHandle, func() bool {
			mu.Lock()
			defer mu.Unlock()
			changed := d != 80
			d = 80
			return changed
		})
	})

	fmt.Println("volume =", volume)
	return nil
}

// runSumFoldScenario replays scenario 2: fold (acc, e) -> acc+e over an
// event source emitting 1..100 in one transaction.
func runSumFoldScenario() error {
	collector := metrics.NewCollector()
	maybeStartMetrics(collector)
	g := reactor.New(
		reactor.WithEngine(engineFromFlag()),
		reactor.WithObservability(newProvider()),
		reactor.WithMetrics(collector),
	)
	defer g.Close()

	var pendingEvents []int64
	var sum atomic.Int64

	var mu sync.Mutex
	source := g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
		return reactor.Unchanged
	}, func() {
		mu.Lock()
		pendingEvents = nil
		mu.Unlock()
	})

	fold := g.MakeNode(0, func(int64) reactor.UpdateResult {
		mu.Lock()
		events := pendingEvents
		mu.Unlock()
		if len(events) == 0 {
			return reactor.Unchanged
		}
		for _, e := range events {
			sum.Add(e)
		}
		return reactor.Changed
	}, nil)
	_ = g.Attach(fold, source)

	g.WithTransaction(context.Background(), func() {
		g.SetInput(source, func() bool {
			mu.Lock()
			for i := int64(1); i <= 100; i++ {
				pendingEvents = append(pendingEvents, i)
			}
			mu.Unlock()
			return true
		})
	})

	fmt.Println("sum =", strconv.FormatInt(sum.Load(), 10))
	return nil
}

// newGraphCmd groups diagnostics that inspect a graph's configuration and
// propagation counters rather than replaying a scenario.
func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect graph configuration and propagation counters",
	}
	cmd.AddCommand(newGraphStatsCmd())
	return cmd
}

// newGraphStatsCmd builds the area half of the diamond scenario's graph
// (w, h -> area), sets w=90 in one transaction, and prints the engine kind
// plus every metrics.Collector counter observed during that run.
func newGraphStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Run a w*h area graph once and print engine/propagation stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraphStats(cmd.OutOrStdout())
		},
	}
}

func runGraphStats(out io.Writer) error {
	collector := metrics.NewCollector()
	maybeStartMetrics(collector)

	kind := engineFromFlag()
	g := reactor.New(
		reactor.WithEngine(kind),
		reactor.WithObservability(newProvider()),
		reactor.WithMetrics(collector),
	)
	defer g.Close()

	var mu sync.Mutex
	var w, h int64 = 60, 70
	var area int64

	wHandle := g.MakeNode(reactor.FlagInput, func(int64) reactor.UpdateResult {
		return reactor.Unchanged
	}, nil)
	hHandle := g.MakeNode(reactor.FlagInput, func(int64) reactor.UpdateResult {
		return reactor.Unchanged
	}, nil)
	areaHandle := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
		mu.Lock()
		defer mu.Unlock()
		next := w * h
		if next == area {
			return reactor.Unchanged
		}
		area = next
		return reactor.Changed
	}, nil)
	_ = g.Attach(areaHandle, wHandle)
	_ = g.Attach(areaHandle, hHandle)

	g.WithTransaction(context.Background(), func() {
		g.SetInput(wHandle, func() bool {
			mu.Lock()
			defer mu.Unlock()
			changed := w != 90
			w = 90
			return changed
		})
	})

	snap := collector.Snapshot()
	fmt.Fprintf(out, "engine: %s\n", strings.ToLower(viper.GetString("engine")))
	fmt.Fprintf(out, "turns committed: %d\n", snap.TurnsCommitted)
	fmt.Fprintf(out, "turns in flight: %d\n", snap.TurnsInFlight)
	fmt.Fprintf(out, "node updates: %d\n", snap.NodesUpdated)
	fmt.Fprintf(out, "node shifts: %d\n", snap.NodesShifted)
	fmt.Fprintf(out, "turn merges: %d\n", snap.MergeCount)
	fmt.Fprintf(out, "async overflow: %d\n", snap.AsyncOverflow)
	fmt.Fprintf(out, "async dispatched: %d\n", snap.AsyncDispatch)
	return nil
}
