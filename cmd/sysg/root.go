package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sysg",
	Short: "Userspace process supervisor",
	Long: `sysg - a userspace process supervisor

Runs a set of declared services under dependency order, restart policy,
rolling or immediate redeployment with health-probe rollback, a cron
scheduler with overlap detection, and dynamic spawn authorization for
subtrees a service creates at runtime.

Examples:
  sysg serve                  # Start the daemon
  sysg status                 # Show every service's state
  sysg logs web                # Tail web's captured stdout
  sysg restart web             # Restart a service
  sysg spawn worker --name job1 -- ./run-job.sh`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		serveCmd.Run(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "path to the control socket (default: state_dir/control.sock)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(logsCmd)
}
