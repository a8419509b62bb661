package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagAddr   string
)

func main() {
	root := &cobra.Command{
		Use:          "mined",
		Short:        "mined keeps a fixed set of game servers running and observers in sync",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "mined.yaml", "path to config file")
	root.PersistentFlags().StringVar(&flagAddr, "addr", "", "daemon address for client commands (host:port)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newWatchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
