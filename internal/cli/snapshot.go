package cli

import (
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Run one poll cycle and print the realtime table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Snapshot(cmd.Context())
	},
}
