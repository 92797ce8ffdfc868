package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/okian/caretd/internal/adapters/journal"
	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/internal/trace"
	"github.com/okian/caretd/pkg/logger"
)

// closeReasonReplay marks journal sessions written by replay.
const closeReasonReplay = "replay"

type replayFlags struct {
	journal string
	json    bool
	states  bool
}

func newReplayCmd() *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:   "replay TRACE...",
		Short: "Replay trace files through a caret session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replay(cmd.Context(), cmd.OutOrStdout(), &f, args)
		},
	}
	cmd.Flags().StringVar(&f.journal, "journal", "", "append replayed snapshots to this sqlite journal")
	cmd.Flags().BoolVar(&f.json, "json", false, "print results as JSON")
	cmd.Flags().BoolVar(&f.states, "states", false, "print the state sequence")
	return cmd
}

func replay(ctx context.Context, out io.Writer, f *replayFlags, paths []string) error {
	var j journal.Journal
	if f.journal != "" {
		sj, err := journal.Open(f.journal)
		if err != nil {
			return err
		}
		defer sj.Close()
		j = sj
	}

	failed := 0
	for _, path := range paths {
		tr, err := trace.Load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		res, err := replayOne(ctx, j, tr)
		if res == nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err != nil {
			failed++
			logger.Get().Warn(ctx, "trace verification failed",
				logger.String("path", path), logger.Error(err))
		}
		if err := report(out, f, path, res, err); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d traces", trace.ErrMismatch, failed, len(paths))
	}
	return nil
}

// replayOne returns a nil result only when the replay itself failed.
func replayOne(ctx context.Context, j journal.Journal, tr *trace.Trace) (*trace.Result, error) {
	var opts []trace.ReplayOption
	if j != nil {
		if err := j.OpenSession(ctx, tr.ID); err != nil {
			return nil, err
		}
		defer func() {
			if err := j.CloseSession(ctx, tr.ID, closeReasonReplay); err != nil {
				logger.Get().Warn(ctx, "journal close session failed",
					logger.String("trace_id", tr.ID), logger.Error(err))
			}
		}()
		opts = append(opts, trace.WithSink(func(batch []caret.Snapshot) error {
			return j.Append(ctx, tr.ID, batch)
		}))
	}
	return trace.Replay(ctx, tr, opts...)
}

type replayReport struct {
	Path   string        `json:"path"`
	Result *trace.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
}

func report(out io.Writer, f *replayFlags, path string, res *trace.Result, verr error) error {
	if f.json {
		r := replayReport{Path: path, Result: res}
		if verr != nil {
			r.Error = verr.Error()
		}
		return json.NewEncoder(out).Encode(r)
	}
	status := "ok"
	if verr != nil {
		status = verr.Error()
	}
	_, err := fmt.Fprintf(out, "%s\ttrace=%s steps=%d snapshots=%d flushes=%d keystrokes=%d wpm=%.1f final=%s\t%s\n",
		path, res.TraceID, res.Steps, len(res.Snapshots), res.Flushes,
		res.Stats.Keystrokes, res.Stats.WPMSmoothed, res.Final.Primary, status)
	if err != nil || !f.states {
		return err
	}
	for _, s := range res.Snapshots {
		if _, err := fmt.Fprintf(out, "  %8d  %-16s caret=%d len=%d\n", s.TimestampMS, s.Primary, s.Caret, s.TextLen); err != nil {
			return err
		}
	}
	return nil
}
