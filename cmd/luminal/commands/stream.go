// Package commands implements CLI command handlers for luminal.
package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/luminal-data/luminal/internal/pipeline"
	"github.com/luminal-data/luminal/internal/processor"
	"github.com/luminal-data/luminal/pkg/clock"
	"github.com/luminal-data/luminal/pkg/config"
	"github.com/luminal-data/luminal/pkg/counter"
	"github.com/luminal-data/luminal/pkg/event"
	"github.com/luminal-data/luminal/pkg/segment"
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 1 << 20

// stdinPath selects standard input as the event source.
const stdinPath = "-"

// streamStats counts what the reader saw on the wire.
type streamStats struct {
	Decoded   uint64
	Malformed uint64
}

// pipelineConfig maps the loaded file configuration onto the engine's
// component configs.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Processor: processor.Config{
			WindowSize:     cfg.Engine.WindowSize,
			GracePeriod:    cfg.Engine.GracePeriod,
			DedupTTL:       cfg.Engine.DedupTTL,
			TickerInterval: cfg.Engine.TickerInterval,
			MaxBufferLen:   cfg.Engine.MaxBufferLen,
		},
		Segments: segment.Config{
			PowerUserThreshold: cfg.Segments.PowerUserThreshold,
			PowerUserWindow:    cfg.Segments.PowerUserWindow,
			ReengageInactivity: cfg.Segments.ReengageInactivity,
		},
		Counter: counter.Config{
			BucketSize: cfg.Counter.BucketSize,
			Window:     cfg.Counter.Window,
		},
		SubscriberBuf: cfg.Engine.SubscriberBuf,
	}
}

// openInput opens the event source: a file path, or stdin for "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == stdinPath {
		return io.NopCloser(os.Stdin), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	return f, nil
}

// replayStream feeds NDJSON events from r into the engine, advancing the
// replay clock to the greatest event timestamp seen so lateness and windows
// are judged against stream time rather than wall time. The watermark is
// ticked as the clock advances.
func replayStream(ctx context.Context, eng *pipeline.Engine, clk *clock.Mock, r io.Reader) (streamStats, error) {
	var stats streamStats

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

		if ev.Ts.After(clk.Now()) {
			clk.Set(ev.Ts)
		}

		_ = eng.Ingest(ctx, ev)
		eng.Tick(ctx)
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read events: %w", err)
	}

	return stats, nil
}
