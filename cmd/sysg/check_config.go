package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sysg-dev/sysg/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate a configuration file without starting the daemon",
	Args:  cobra.NoArgs,
	Run:   runCheckConfig,
}

var checkConfigJSON bool

func init() {
	checkConfigCmd.Flags().BoolVar(&checkConfigJSON, "json", false, "report the result as JSON")
}

func runCheckConfig(cmd *cobra.Command, args []string) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if checkConfigJSON {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]string{"config_path": path, "error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "sysg: %s: %v\n", path, err)
		}
		os.Exit(1)
	}

	if checkConfigJSON {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
			"config_path":   path,
			"service_count": len(cfg.Services),
			"valid":         true,
		})
		return
	}

	fmt.Printf("%s is valid\n", path)
	fmt.Printf("  services: %d\n", len(cfg.Services))
	fmt.Printf("  shutdown_grace: %s\n", cfg.Global.ShutdownGrace)
	fmt.Printf("  default_readiness: %s\n", cfg.Global.DefaultReadiness)
}
