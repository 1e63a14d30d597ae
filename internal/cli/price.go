package cli

import (
	"github.com/spf13/cobra"
)

var priceForce bool

var priceCmd = &cobra.Command{
	Use:   "price SYMBOL",
	Short: "Resolve the current price for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Price(cmd.Context(), args[0], priceForce)
	},
}

func init() {
	priceCmd.Flags().BoolVar(&priceForce, "force", false, "Skip the warm cache and fetch a fresh quote")
}
