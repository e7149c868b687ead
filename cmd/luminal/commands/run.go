package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminal-data/luminal/internal/bus"
	"github.com/luminal-data/luminal/internal/pipeline"
	"github.com/luminal-data/luminal/internal/processor"
	"github.com/luminal-data/luminal/pkg/clock"
	"github.com/luminal-data/luminal/pkg/config"
	"github.com/luminal-data/luminal/pkg/event"
	"github.com/luminal-data/luminal/pkg/observability"
	"github.com/luminal-data/luminal/pkg/version"
)

// ingestQueueCap bounds the live-mode handoff between the reader and the
// engine.
const ingestQueueCap = 1024

// runSummary aggregates what one run saw end to end.
type runSummary struct {
	Stream      streamStats
	Stats       processor.Stats
	Profiles    int
	Transitions uint64
	Rejected    uint64
}

// NewRunCommand creates the `luminal run` command.
func NewRunCommand() *cobra.Command {
	var (
		configPath string
		inputPath  string
		live       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream events through the engine and emit segment transitions",
		Long: `Run reads newline-delimited JSON events from a file or stdin, streams
them through the identity, profile, counter, and segment pipeline, and
writes segment ENTER/EXIT transitions to stdout as NDJSON.

By default events are replayed against stream time: the clock follows the
greatest event timestamp, so historical files evaluate lateness and windows
as they would have live. With --live the wall clock and the watermark
ticker are used instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			providers, err := initObservability(cfg)
			if err != nil {
				return err
			}

			defer shutdownObservability(providers)

			metrics, err := observability.NewEngineMetrics(providers.Meter)
			if err != nil {
				return fmt.Errorf("create engine metrics: %w", err)
			}

			in, err := openInput(inputPath)
			if err != nil {
				return err
			}

			defer in.Close()

			summary, err := executeRun(cmd.Context(), cfg, in, cmd.OutOrStdout(), providers, metrics, live)
			if err != nil {
				return err
			}

			providers.Logger.InfoContext(cmd.Context(), "run complete",
				"decoded", summary.Stream.Decoded,
				"malformed", summary.Stream.Malformed,
				"processed", summary.Stats.Processed,
				"late", summary.Stats.Late,
				"dropped", summary.Stats.Dropped,
				"dedup_hits", summary.Stats.DedupHits,
				"rejected", summary.Rejected,
				"profiles", summary.Profiles,
				"transitions", summary.Transitions)

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&inputPath, "input", "i", stdinPath, "NDJSON event source ('-' for stdin)")
	cmd.Flags().BoolVar(&live, "live", false, "use the wall clock and watermark ticker instead of replay time")

	return cmd
}

func initObservability(cfg *config.Config) (observability.Providers, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return observability.Providers{}, err
	}

	providers, err := observability.Init(observability.Config{
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version.Version,
		Environment:       cfg.Telemetry.Environment,
		OTLPEndpoint:      cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:      cfg.Telemetry.OTLPInsecure,
		OTLPHeaders:       observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders),
		PrometheusEnabled: cfg.Telemetry.PrometheusEnabled,
		SampleRatio:       cfg.Telemetry.SampleRatio,
		LogLevel:          level,
		LogJSON:           cfg.Logging.Format == "json",
	})
	if err != nil {
		return observability.Providers{}, fmt.Errorf("init observability: %w", err)
	}

	return providers, nil
}

func shutdownObservability(providers observability.Providers) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = providers.Shutdown(ctx)
}

// executeRun streams events from in through a fresh engine, writing segment
// transitions to out as NDJSON.
func executeRun(
	ctx context.Context,
	cfg *config.Config,
	in io.Reader,
	out io.Writer,
	providers observability.Providers,
	metrics *observability.EngineMetrics,
	live bool,
) (runSummary, error) {
	var (
		clk *clock.Mock
		eng *pipeline.Engine
	)

	if live {
		eng = pipeline.New(pipelineConfig(cfg), nil, providers.Logger, metrics)
	} else {
		clk = clock.NewMock(time.Time{})
		eng = pipeline.New(pipelineConfig(cfg), clk, providers.Logger, metrics)
	}

	sub := eng.Subscribe()

	var (
		writerWG    sync.WaitGroup
		transitions uint64
	)

	writerWG.Add(1)

	go func() {
		defer writerWG.Done()

		encoder := json.NewEncoder(out)

		for tr := range sub.C() {
			if err := encoder.Encode(tr); err != nil {
				providers.Logger.ErrorContext(ctx, "write transition", "error", err)

				return
			}

			transitions++
		}
	}()

	var (
		summary runSummary
		err     error
	)

	if live {
		summary.Stream, summary.Rejected, err = liveStream(ctx, eng, in)
	} else {
		summary.Stream, err = replayStream(ctx, eng, clk, in)
	}

	eng.Stop(ctx)
	writerWG.Wait()

	if err != nil {
		return runSummary{}, err
	}

	summary.Stats = eng.Stats()
	summary.Profiles = eng.Profiles()
	summary.Transitions = transitions

	return summary, nil
}

// liveStream feeds decoded events through a bounded queue into the running
// engine. The queue rejects rather than blocks when the engine falls behind.
func liveStream(ctx context.Context, eng *pipeline.Engine, r io.Reader) (streamStats, uint64, error) {
	var stats streamStats

	eng.Start(ctx)

	queue := bus.NewQueue[event.Event](ingestQueueCap)

	var consumerWG sync.WaitGroup

	consumerWG.Add(1)

	go func() {
		defer consumerWG.Done()

		eng.Run(ctx, queue.C())
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev event.Event

		if err := json.Unmarshal(line, &ev); err != nil {
			stats.Malformed++

			continue
		}

		stats.Decoded++
		queue.Enqueue(ev)
	}

	queue.Close()
	consumerWG.Wait()

	if err := scanner.Err(); err != nil {
		return stats, queue.Rejected(), fmt.Errorf("read events: %w", err)
	}

	return stats, queue.Rejected(), nil
}
