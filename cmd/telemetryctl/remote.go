package main

import (
	"github.com/spf13/cobra"
)

var refreshForeground bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch remote data now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rd := client.RemoteData()
		refresh := rd.Refresh
		if refreshForeground {
			refresh = rd.ForegroundRefresh
		}
		if err := <-refresh(cmd.Context()); err != nil {
			return err
		}
		meta := rd.LastMetadata()
		return printResult(map[string]any{
			"types":         len(rd.Payloads()),
			"locale":        meta.Locale,
			"app_version":   meta.AppVersion,
			"last_modified": meta.LastModified,
			"refreshed_at":  formatTime(rd.LastRefreshTime()),
		})
	},
}

var payloadsCmd = &cobra.Command{
	Use:   "payloads [TYPE...]",
	Short: "Print cached remote data payloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		printPayloads(client.RemoteData().Payloads(args...))
		return nil
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForeground, "foreground", false, "apply the foreground throttle")
}
