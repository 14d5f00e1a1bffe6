// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/screencap"
	"github.com/gogpu/screencap/internal/config"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure capture throughput",
	Long: `Run one or more capture sessions on a shared device for a fixed
duration and report frames per second, dropped frames and rebinds.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("sessions", 0, "concurrent capture sessions")
	benchCmd.Flags().Duration("duration", 0, "how long to capture")
	rootCmd.AddCommand(benchCmd)
}

// benchResult is what one session measured.
type benchResult struct {
	Stats    screencap.Stats
	Timeouts int
	Bytes    int64
	Elapsed  time.Duration
	Err      error
	Width    int
	Height   int
	State    screencap.State
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("sessions"); n > 0 {
		cfg.Bench.Sessions = n
	}
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		cfg.Bench.Duration = d
	}

	e, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer e.close()

	captures := make([]*screencap.Capture, 0, cfg.Bench.Sessions)
	defer func() {
		for _, c := range captures {
			c.Close()
		}
	}()
	for range cfg.Bench.Sessions {
		c, err := e.capture()
		if err != nil {
			return err
		}
		captures = append(captures, c)
	}

	results := make([]benchResult, len(captures))
	deadline := time.Now().Add(cfg.Bench.Duration)
	var wg conc.WaitGroup
	for i, c := range captures {
		wg.Go(func() {
			results[i] = benchSession(c, deadline, cfg.Capture.Timeout)
		})
	}
	wg.Wait()

	printBench(cmd.OutOrStdout(), e.dev.Info().Name, results)
	return errors.Join(sessionErrors(results)...)
}

func benchSession(c *screencap.Capture, deadline time.Time, timeout time.Duration) benchResult {
	var r benchResult
	start := time.Now()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		f, err := c.WaitFrame(min(remaining, timeout))
		switch {
		case err == nil:
			r.Bytes += int64(len(f.Data()))
			r.Width, r.Height = f.Width, f.Height
		case screencap.IsTransient(err):
			r.Timeouts++
		case errors.Is(err, screencap.ErrSourceInvalidated):
			if rerr := c.Rebind(); rerr != nil {
				r.Err = rerr
			}
		default:
			r.Err = err
		}
		if r.Err != nil {
			break
		}
	}
	r.Elapsed = time.Since(start)
	r.Stats = c.Stats()
	r.State = c.State()
	return r
}

func sessionErrors(results []benchResult) []error {
	var errs []error
	for i, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("session %d: %w", i, r.Err))
		}
	}
	return errs
}

func printBench(w io.Writer, adapter string, results []benchResult) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "adapter: %s, sessions: %d\n", adapter, len(results))

	var total benchResult
	for i, r := range results {
		fps := 0.0
		if r.Elapsed > 0 {
			fps = float64(r.Stats.Frames) / r.Elapsed.Seconds()
		}
		p.Fprintf(w, "session %d: %dx%d  frames %d  %.1f fps  dropped %d  rebinds %d  timeouts %d  %d bytes  %s\n",
			i, r.Width, r.Height, r.Stats.Frames, fps, r.Stats.Dropped, r.Stats.Rebinds, r.Timeouts, r.Bytes, r.State)
		total.Stats.Frames += r.Stats.Frames
		total.Stats.Dropped += r.Stats.Dropped
		total.Stats.Rebinds += r.Stats.Rebinds
		total.Bytes += r.Bytes
		total.Elapsed = max(total.Elapsed, r.Elapsed)
	}
	if len(results) > 1 && total.Elapsed > 0 {
		p.Fprintf(w, "total: frames %d  %.1f fps  dropped %d  rebinds %d  %d bytes\n",
			total.Stats.Frames, float64(total.Stats.Frames)/total.Elapsed.Seconds(),
			total.Stats.Dropped, total.Stats.Rebinds, total.Bytes)
	}
}
