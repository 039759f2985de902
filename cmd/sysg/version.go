package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		short, _ := cmd.Flags().GetBool("short")
		if short {
			fmt.Println(version)
			return
		}
		fmt.Printf("sysg v%s\n", version)
		fmt.Println("userspace process supervisor")
	},
}

func init() {
	versionCmd.Flags().BoolP("short", "s", false, "show only the version number")
}
