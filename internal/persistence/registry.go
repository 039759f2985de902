package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Paths locates every file the supervisor persists inside a single state
// directory (typically the runtime dir resolved by setup.GetRuntimeDir).
type Paths struct {
	Dir string
}

func NewPaths(dir string) Paths { return Paths{Dir: dir} }

func (p Paths) SupervisorPid() string { return filepath.Join(p.Dir, "sysg.pid") }
func (p Paths) ControlSocket() string { return filepath.Join(p.Dir, "control.sock") }
func (p Paths) ConfigHint() string    { return filepath.Join(p.Dir, "config_hint") }
func (p Paths) PidMap() string        { return filepath.Join(p.Dir, "pid.json") }
func (p Paths) PidMapLock() string    { return filepath.Join(p.Dir, "pid.json.lock") }
func (p Paths) StateMap() string      { return filepath.Join(p.Dir, "state.json") }
func (p Paths) CronState() string     { return filepath.Join(p.Dir, "cron_state.json") }

// AcquireSupervisorLock enforces "exactly one supervisor per state
// directory" via an O_EXCL create of sysg.pid. The returned release func
// removes the file; wire it only into the clean-shutdown path — a crash
// is expected to leave a stale pid file for the operator, or a future
// start attempt, to find and investigate.
func AcquireSupervisorLock(dir string) (release func() error, err error) {
	path := NewPaths(dir).SupervisorPid()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("supervisor already running (or crashed without cleanup): %s exists", path)
		}
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write pid to %s: %w", path, err)
	}
	return func() error { return os.Remove(path) }, nil
}

// WriteConfigHint records the canonicalized path of the last-loaded
// configuration, so a bare `sysg status` invoked without -c can find it.
func WriteConfigHint(dir, configPath string) error {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", configPath, err)
	}
	return WriteFileAtomic(NewPaths(dir).ConfigHint(), []byte(abs), 0o644)
}

// ReadConfigHint returns the path written by the most recent WriteConfigHint.
func ReadConfigHint(dir string) (string, error) {
	data, err := os.ReadFile(NewPaths(dir).ConfigHint())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PidMap is the { services: { name: pid } } persisted snapshot of every
// currently-launched process.
type PidMap struct {
	Services map[string]int `json:"services"`
}

func LoadPidMap(dir string) (PidMap, error) {
	pm := PidMap{Services: make(map[string]int)}
	data, err := os.ReadFile(NewPaths(dir).PidMap())
	if errors.Is(err, os.ErrNotExist) {
		return pm, nil
	}
	if err != nil {
		return pm, fmt.Errorf("read pid map: %w", err)
	}
	if err := json.Unmarshal(data, &pm); err != nil {
		return pm, fmt.Errorf("parse pid map: %w", err)
	}
	if pm.Services == nil {
		pm.Services = make(map[string]int)
	}
	return pm, nil
}

func SavePidMap(dir string, pm PidMap) error {
	data, err := json.MarshalIndent(pm, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pid map: %w", err)
	}
	return WriteFileAtomic(NewPaths(dir).PidMap(), data, 0o644)
}

// WithPidMapLock takes the advisory lock on pid.json.lock for the
// duration of fn, serializing the read-modify-write cycle between the
// monitor loop and any CLI process inspecting state concurrently.
func WithPidMapLock(dir string, fn func() error) error {
	path := NewPaths(dir).PidMapLock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open pid map lock %s: %w", path, err)
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return fn()
}

// StateEntry is the persisted, JSON-tagged view of one service's
// ServiceState. Kind mirrors supervisor.State.String() so the file is
// self-describing without this package importing internal/supervisor.
type StateEntry struct {
	Kind   string    `json:"kind"`
	Pid    int       `json:"pid,omitempty"`
	Since  time.Time `json:"since"`
	Reason string    `json:"reason,omitempty"`
}

type StateMap map[string]StateEntry

func LoadStateMap(dir string) (StateMap, error) {
	sm := make(StateMap)
	data, err := os.ReadFile(NewPaths(dir).StateMap())
	if errors.Is(err, os.ErrNotExist) {
		return sm, nil
	}
	if err != nil {
		return sm, fmt.Errorf("read state map: %w", err)
	}
	if err := json.Unmarshal(data, &sm); err != nil {
		return sm, fmt.Errorf("parse state map: %w", err)
	}
	return sm, nil
}

func SaveStateMap(dir string, sm StateMap) error {
	data, err := json.MarshalIndent(sm, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state map: %w", err)
	}
	return WriteFileAtomic(NewPaths(dir).StateMap(), data, 0o644)
}

// CronOutcome mirrors the discriminated Ok/Err result of one cron
// invocation.
type CronOutcome struct {
	Kind string `json:"kind"` // "Ok" or "Err"
	Code int    `json:"code"`
}

// CronExecutionRecord mirrors cron.ExecutionEntry's on-disk shape without
// importing internal/cron, keeping this package a leaf in the import
// graph; the daemon façade translates between the two.
type CronExecutionRecord struct {
	ScheduledFor time.Time  `json:"scheduled_for"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	Outcome      CronOutcome `json:"outcome"`
}

// CronJobState holds one cron job's bounded execution ring.
type CronJobState struct {
	History []CronExecutionRecord `json:"history"`
}

type CronState map[string]CronJobState

func LoadCronState(dir string) (CronState, error) {
	cs := make(CronState)
	data, err := os.ReadFile(NewPaths(dir).CronState())
	if errors.Is(err, os.ErrNotExist) {
		return cs, nil
	}
	if err != nil {
		return cs, fmt.Errorf("read cron state: %w", err)
	}
	if err := json.Unmarshal(data, &cs); err != nil {
		return cs, fmt.Errorf("parse cron state: %w", err)
	}
	return cs, nil
}

func SaveCronState(dir string, cs CronState) error {
	data, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron state: %w", err)
	}
	return WriteFileAtomic(NewPaths(dir).CronState(), data, 0o644)
}
