// Command aiperf-bench drives one benchmark profile against an
// HTTP-serving LLM endpoint. Flag parsing is deliberately minimal: the
// CLI/config-parsing layer (cobra/viper, YAML profiles) is out of scope
// here, so flags are wired directly into a controller.ProfileConfig.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
	"github.com/ai-benchmarks/aiperf/internal/controller"
	"github.com/ai-benchmarks/aiperf/internal/dataset"
	"github.com/ai-benchmarks/aiperf/internal/events"
	"github.com/ai-benchmarks/aiperf/internal/otel"
	"github.com/ai-benchmarks/aiperf/internal/records"
	"github.com/ai-benchmarks/aiperf/internal/timing"
	"github.com/ai-benchmarks/aiperf/internal/worker"
)

func main() {
	endpointURL := flag.String("url", "http://localhost:8000", "base URL of the HTTP-serving endpoint")
	modelName := flag.String("model", "", "model name sent in each request body")
	modeFlag := flag.String("mode", "concurrency", "timing mode: concurrency, request_rate, fixed_schedule")
	concurrency := flag.Int("concurrency", 10, "target concurrent in-flight requests (concurrency mode)")
	requestRate := flag.Float64("request-rate", 10, "target requests per second (request_rate mode)")
	warmupRequests := flag.Int64("warmup-requests", 20, "number of warmup credits to issue, 0 to skip warmup")
	totalRequests := flag.Int64("total-requests", 1000, "number of profiling credits to issue, 0 for unbounded")
	numWorkers := flag.Int("workers", 0, "worker pool size, 0 to derive from CPU count")
	artifactDir := flag.String("artifact-dir", "./aiperf-artifacts", "directory for raw records and exports")
	seed := flag.Uint64("seed", 42, "root RNG seed for reproducible sampling")
	logLevel := flag.String("log-level", "info", "slog level: debug, info, warn, error")
	flag.Parse()

	level := slog.LevelInfo
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	events.SetGlobalEventLogger(events.NewEventLogger("aiperf-bench", ""))
	otel.SetGlobalMetrics(otel.NoopMetrics())
	otel.SetGlobalTracer(otel.NoopTracer())

	if err := os.MkdirAll(*artifactDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create artifact dir: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	datasetMgr := dataset.New("dataset-manager", syntheticLoader(1000, *seed))

	poolSize := *numWorkers
	if poolSize <= 0 {
		poolSize = worker.Size(worker.SizingInput{CPUCount: runtime.NumCPU(), ConcurrencyTarget: *concurrency})
	}

	workers := make([]*worker.Worker, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		id := fmt.Sprintf("worker-%d", i)
		client := worker.NewClient(*endpointURL, nil, worker.DefaultTransportConfig())
		conv := worker.DefaultConverter{Model: *modelName, Stream: true}
		workers = append(workers, worker.New(id, client, conv, datasetMgr))
	}

	timingMgr := timing.New("timing-manager", datasetMgr, *seed)
	recordsMgr := records.New("records-manager", *artifactDir)

	deps := bus.Deps{
		Events:  bus.NewEventBus(),
		Command: bus.NewCommandBus(),
		Credits: bus.NewWorkQueue(),
		Records: bus.NewWorkQueue(),
	}

	ctrl := controller.New("controller", logger, deps, datasetMgr, timingMgr, recordsMgr, workers)

	cfg := controller.ProfileConfig{
		Profiling: timing.PhaseConfig{
			Phase:             model.PhaseProfiling,
			Mode:              timing.Mode(*modeFlag),
			Concurrency:       *concurrency,
			RequestsPerSecond: *requestRate,
			Arrival:           timing.ArrivalPoisson,
			TotalCredits:      *totalRequests,
			SamplerKind:       timing.SamplerRandom,
		},
		Workers: workers,
	}
	if *warmupRequests > 0 {
		cfg.Warmup = timing.PhaseConfig{
			Phase:        model.PhaseWarmup,
			Mode:         timing.ModeConcurrency,
			Concurrency:  *concurrency,
			TotalCredits: *warmupRequests,
			SamplerKind:  timing.SamplerRandom,
		}
	}

	go func() {
		<-ctx.Done()
		abortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = ctrl.Abort(abortCtx, stop)
	}()

	start := time.Now()
	results, err := ctrl.Run(ctx, cfg)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("run complete",
		"duration", time.Since(start),
		"service_errors", ctrl.ServiceErrorCount(),
		"completed", results.Completed,
		"errors", results.Errors,
		"was_cancelled", results.WasCancelled,
	)
}

// syntheticLoader builds a deterministic in-memory dataset of
// conversations for demonstration purposes, standing in for the
// excluded corpus-file/YAML loading layer.
func syntheticLoader(n int, seed uint64) dataset.Loader {
	return func(ctx context.Context) ([]model.Conversation, []model.ScheduleEntry, error) {
		rng := rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
		conversations := make([]model.Conversation, 0, n)
		for i := 0; i < n; i++ {
			turns := 1 + rng.IntN(3)
			conv := model.Conversation{ID: fmt.Sprintf("conv-%d", i)}
			for j := 0; j < turns; j++ {
				conv.Turns = append(conv.Turns, model.Turn{
					Index:        j,
					Role:         "user",
					InputLength:  50 + rng.IntN(200),
					OutputLength: 50 + rng.IntN(200),
					Payload: map[string]interface{}{
						"endpoint": string(worker.EndpointChatCompletions),
						"messages": []map[string]string{{"role": "user", "content": "synthetic prompt"}},
					},
				})
			}
			conversations = append(conversations, conv)
		}
		return conversations, nil, nil
	}
}
