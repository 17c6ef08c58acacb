package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/ingest"
)

type replayReport struct {
	Stats      ingest.Stats           `json:"stats"`
	Facilities []data.FacilitySummary `json:"facilities"`
	Alarms     []data.AlarmEntry      `json:"alarms"`
}

func newReplayCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file>",
		Short: "Feed a capture of newline-delimited envelopes through the pipeline",
		Long: `replay applies every envelope in the file in order, as if it had arrived
from the upstream, and prints the resulting facility summaries and alarm log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configDir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c, err := newCore(cfg, log)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			report, err := replay(cmd.Context(), c, f, log)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func replay(ctx context.Context, c *core, r io.Reader, log *slog.Logger) (replayReport, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := c.pipeline.HandleRaw(ctx, raw); err != nil {
			log.Debug("frame discarded", slog.Int("line", line))
		}
	}
	if err := sc.Err(); err != nil {
		return replayReport{}, fmt.Errorf("reading capture at line %d: %w", line, err)
	}

	return replayReport{
		Stats:      c.pipeline.Stats(),
		Facilities: c.summarizer.SummarizeAll(),
		Alarms:     c.alarms.Entries(),
	}, nil
}
