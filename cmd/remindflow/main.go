package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "remindflow",
		Short:         "GST filing deadline reminders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	rootCmd.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load before the environment (default .env)")

	rootCmd.AddCommand(
		serveCmd(a),
		migrateCmd(a),
		generateCmd(a),
		scheduleCmd(a),
		drainCmd(a),
		dispatchCmd(a),
		sweepCmd(a),
		requeueCmd(a),
		tokenCmd(a),
	)
	return rootCmd
}
