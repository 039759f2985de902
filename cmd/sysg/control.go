package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/control"
	"github.com/sysg-dev/sysg/internal/persistence"
	"github.com/sysg-dev/sysg/internal/setup"
)

var socketFlag string

const clientTimeout = 5 * time.Second

// resolveConfigPath determines the configuration file with the same
// priority order the daemon itself uses: explicit flag, then environment,
// then a descending list of conventional locations.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if envPath := os.Getenv("SYSG_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		os.ExpandEnv("$HOME/.config/sysg/config.yaml"),
		os.ExpandEnv("$HOME/.config/sysg/config.yml"),
		"/etc/sysg/config.yaml",
		"/etc/sysg/config.yml",
		"sysg.yaml",
		"sysg.yml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "sysg.yaml"
}

// resolveStateDir returns the daemon's state directory: an explicit
// --socket flag needs no config at all, otherwise it comes from the
// loaded config's global.state_dir, falling back to the platform runtime
// directory the daemon itself falls back to on an empty value.
func resolveStateDir() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Global.StateDir != "" {
		return cfg.Global.StateDir, nil
	}
	return setup.GetRuntimeDir()
}

// newClient connects to the running daemon's control endpoint.
func newClient() (*control.Client, error) {
	sock := socketFlag
	if sock == "" {
		dir, err := resolveStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state directory: %w", err)
		}
		sock = persistence.NewPaths(dir).ControlSocket()
	}
	return control.NewClient(sock, clientTimeout), nil
}

// call sends req and surfaces a Response-kind error as a Go error, so
// callers only ever need to branch on req.Kind's expected success shape.
func call(req control.Request) (control.Response, error) {
	client, err := newClient()
	if err != nil {
		return control.Response{}, err
	}
	resp, err := client.Call(req)
	if err != nil {
		return control.Response{}, err
	}
	if errResp := resp.AsError(); errResp != nil {
		return resp, errResp
	}
	return resp, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "sysg: %v\n", err)
	os.Exit(1)
}

var startCmd = &cobra.Command{
	Use:   "start <service>",
	Short: "Start a stopped service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := call(control.Request{Kind: control.RequestStart, Service: args[0]}); err != nil {
			fail(err)
		}
		fmt.Printf("started %s\n", args[0])
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <service>",
	Short: "Stop a running service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := call(control.Request{Kind: control.RequestStop, Service: args[0]}); err != nil {
			fail(err)
		}
		fmt.Printf("stopped %s\n", args[0])
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <service>",
	Short: "Restart a service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := call(control.Request{Kind: control.RequestRestart, Service: args[0]}); err != nil {
			fail(err)
		}
		fmt.Printf("restarted %s\n", args[0])
	},
}

var (
	spawnName      string
	spawnTTL       string
	spawnParentPid int
)

// spawnCmd asks the daemon to start a tracked dynamic child. The parent
// is named either explicitly (the positional parent-service argument) or
// by --parent-pid, which the daemon resolves by walking up the OS
// process tree from that pid to the nearest registered spawn node
// (spec.md §4.8 step 1); if neither is given the daemon falls back to
// the pid of the process that connected to the control socket.
var spawnCmd = &cobra.Command{
	Use:   "spawn [parent-service] -- <command> [args...]",
	Short: "Ask a dynamic-spawn-mode service's parent to start a tracked child",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		service := ""
		command := args
		if spawnParentPid == 0 {
			if len(args) < 2 {
				fail(fmt.Errorf("spawn requires a parent service name unless --parent-pid is set"))
			}
			service = args[0]
			command = args[1:]
		}
		resp, err := call(control.Request{
			Kind:      control.RequestSpawn,
			Service:   service,
			ParentPid: spawnParentPid,
			Name:      spawnName,
			TTL:       spawnTTL,
			Command:   command,
		})
		if err != nil {
			fail(err)
		}
		fmt.Printf("spawned pid %d\n", resp.SpawnedPid)
	},
}

func init() {
	spawnCmd.Flags().StringVar(&spawnName, "name", "", "name for the spawned child (required)")
	spawnCmd.Flags().StringVar(&spawnTTL, "ttl", "", "terminate the child automatically after this duration, e.g. 30s")
	spawnCmd.Flags().IntVar(&spawnParentPid, "parent-pid", 0, "resolve the spawn parent by walking up from this pid instead of by service name")
	_ = spawnCmd.MarkFlagRequired("name")
}

var (
	logsKind  string
	logsLines int
)

var logsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Show a service's captured log output",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kind := control.LogStdout
		switch logsKind {
		case "stderr":
			kind = control.LogStderr
		case "supervisor":
			kind = control.LogSupervisor
		}
		resp, err := call(control.Request{Kind: control.RequestLogs, Service: args[0], LogKind: kind, Lines: logsLines})
		if err != nil {
			fail(err)
		}
		for _, line := range resp.LogLines {
			fmt.Println(line)
		}
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsKind, "stream", "stdout", "which stream to read (stdout|stderr|supervisor)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 100, "number of trailing lines to show")
}

func formatSince(v string) string {
	t, err := time.Parse("2006-01-02T15:04:05Z07:00", v)
	if err != nil {
		return v
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

