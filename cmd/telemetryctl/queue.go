package main

import (
	"time"

	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Upload queued events now and wait for the result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		before, err := client.Analytics().QueueStats(cmd.Context())
		if err != nil {
			return err
		}
		if err := client.Analytics().Flush(cmd.Context()); err != nil {
			return err
		}
		after, err := client.Analytics().QueueStats(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(map[string]any{
			"uploaded":  before.Count - after.Count,
			"remaining": after.Count,
		})
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the persisted queue and the upload schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := client.Analytics()
		stats, err := a.QueueStats(cmd.Context())
		if err != nil {
			return err
		}
		st, err := a.ScheduleState(cmd.Context())
		if err != nil {
			return err
		}
		limits, err := a.TunedLimits(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(map[string]any{
			"enabled":            a.IsEnabled(),
			"events":             stats.Count,
			"bytes":              stats.Bytes,
			"state":              st.State.String(),
			"fire_at":            formatTime(st.FireAt),
			"last_send":          formatTime(st.LastSend),
			"next_backoff":       st.NextBackoff.String(),
			"tuned_max_batch":    limits.MaxBatchBytes,
			"tuned_max_total":    limits.MaxTotalBytes,
			"tuned_min_interval": limits.MinBatchInterval.String(),
		})
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
