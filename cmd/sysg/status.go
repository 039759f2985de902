package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sysg-dev/sysg/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every declared service's current state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := call(control.Request{Kind: control.RequestStatus})
		if err != nil {
			fail(err)
		}
		printStatusTable(resp.Services)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <service>",
	Short: "Show one service's state in detail",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := call(control.Request{Kind: control.RequestInspect, Service: args[0]})
		if err != nil {
			fail(err)
		}
		printStatusTable(resp.Services)
	},
}

func printStatusTable(services []control.ServiceStatus) {
	if len(services) == 0 {
		fmt.Println("no services")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tPID\tRESTARTS\tSINCE\tREASON")
	for _, s := range services {
		pid := "-"
		if s.Pid != 0 {
			pid = fmt.Sprintf("%d", s.Pid)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", s.Name, s.Kind, pid, s.Restarts, formatSince(s.Since), s.Reason)
	}
	w.Flush()
}
