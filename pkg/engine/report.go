package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// timeRounding trims sub-millisecond noise from rendered durations.
const timeRounding = time.Millisecond

// WriteText renders the report as a human-readable summary: one line
// per host, then the run totals.
func WriteText(w io.Writer, r *Report) error {
	bw := bufio.NewWriter(w)

	for _, hr := range r.Hosts {
		fmt.Fprintf(bw, "%-24s %-12s changed=%d unchanged=%d failed=%d ignored=%d skipped=%d",
			hr.Host, hr.Status,
			hr.OpsChanged, hr.OpsUnchanged, hr.OpsFailed, hr.OpsIgnored, hr.OpsSkipped)
		if hr.Error != "" {
			fmt.Fprintf(bw, "  (%s)", hr.Error)
		}
		fmt.Fprintln(bw)
	}

	s := r.Run.Summary
	fmt.Fprintf(bw, "\nrun %s: %s", r.Run.ID, r.Run.Phase)
	if r.Run.Dry {
		fmt.Fprint(bw, " (dry)")
	}
	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "hosts: %d targeted, %d connected, %d unreachable, %d failed, %d changed\n",
		s.Hosts, s.Connected, s.Unreachable, s.Failed, s.Changed)
	fmt.Fprintf(bw, "operations: %d run, %d skipped, %d commands\n",
		s.Operations, s.Skipped, s.Commands)
	if r.Run.Duration > 0 {
		fmt.Fprintf(bw, "duration: %s\n", r.Run.Duration.Round(timeRounding))
	}
	if r.Run.Error != "" {
		fmt.Fprintf(bw, "aborted: %s\n", r.Run.Error)
	}

	return bw.Flush()
}

// WriteJSON renders the report as one indented JSON document.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// StreamWriter publishes run events as newline-delimited JSON, one
// event per line. It implements EventPublisher for callers that want a
// live machine-readable timeline on stdout or a pipe.
type StreamWriter struct {
	w *bufio.Writer
}

// NewStreamWriter creates a stream writer over w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{
		w: bufio.NewWriter(w),
	}
}

// Publish writes one event line and flushes, so consumers see events
// as they happen rather than at buffer boundaries.
func (s *StreamWriter) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return s.w.Flush()
}
