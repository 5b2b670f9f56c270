package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-telemetry-kit/analytics"
)

var (
	recordPriority string
	recordData     []string
	recordFlush    bool
)

var recordCmd = &cobra.Command{
	Use:   "record TYPE",
	Short: "Record a custom event",
	Long: `Record an event of TYPE. Each --data key=value pair becomes a data field;
values that parse as JSON (numbers, booleans, objects) keep their type.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, err := analytics.ParsePriority(recordPriority)
		if err != nil {
			return err
		}
		data, err := parseDataFlags(recordData)
		if err != nil {
			return err
		}
		ev := analytics.NewEvent(args[0], priority, data)
		if err := client.RecordEvent(cmd.Context(), ev); err != nil {
			return err
		}
		if recordFlush {
			if err := client.Analytics().Flush(cmd.Context()); err != nil {
				return fmt.Errorf("event %s recorded, flush failed: %w", ev.ID, err)
			}
		}
		return printResult(map[string]any{
			"event_id": ev.ID,
			"type":     ev.Type,
			"priority": priority.String(),
			"session":  client.Analytics().CurrentSession(),
			"flushed":  recordFlush,
		})
	},
}

func parseDataFlags(pairs []string) (*analytics.Data, error) {
	data := analytics.NewData()
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --data %q, want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		data.Set(key, v)
	}
	return data, nil
}

func init() {
	recordCmd.Flags().StringVarP(&recordPriority, "priority", "p", "normal", "low, normal or high")
	recordCmd.Flags().StringArrayVarP(&recordData, "data", "d", nil, "data field as key=value (repeatable)")
	recordCmd.Flags().BoolVar(&recordFlush, "flush", false, "upload immediately and wait for the result")
}
