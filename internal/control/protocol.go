// Package control implements the daemon's local control endpoint: a
// length-prefixed JSON protocol spoken over a Unix domain socket, used
// by the CLI (and any other local client) to drive Start/Stop/Restart/
// Status/Inspect/Logs/Spawn/Shutdown/Purge against the running daemon.
package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single request/response frame to prevent a
// misbehaving peer from forcing an unbounded allocation.
const maxFrameSize = 8 * 1024 * 1024

// RequestKind discriminates the Request union.
type RequestKind string

const (
	RequestStart    RequestKind = "Start"
	RequestStop     RequestKind = "Stop"
	RequestRestart  RequestKind = "Restart"
	RequestStatus   RequestKind = "Status"
	RequestInspect  RequestKind = "Inspect"
	RequestLogs     RequestKind = "Logs"
	RequestSpawn    RequestKind = "Spawn"
	RequestShutdown RequestKind = "Shutdown"
	RequestPurge    RequestKind = "Purge"
)

// LogKind selects which stream a Logs request reads from.
type LogKind string

const (
	LogStdout     LogKind = "Stdout"
	LogStderr     LogKind = "Stderr"
	LogSupervisor LogKind = "Supervisor"
)

// Request is the envelope for every control-endpoint call. Only the
// fields relevant to Kind are populated; the rest are zero values.
type Request struct {
	Kind RequestKind `json:"kind"`

	Service        string `json:"service,omitempty"`
	ConfigPath     string `json:"config_path,omitempty"`
	IncludeOrphans bool   `json:"include_orphans,omitempty"`

	Unit   string `json:"unit,omitempty"`
	Since  string `json:"since,omitempty"`
	Window string `json:"window,omitempty"`

	LogKind LogKind `json:"log_kind,omitempty"`
	Lines   int     `json:"lines,omitempty"`

	Name      string            `json:"name,omitempty"`
	ParentPid int               `json:"parent_pid,omitempty"`
	TTL       string            `json:"ttl,omitempty"`
	Command   []string          `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// ResponseKind discriminates the Response union's payload shape.
type ResponseKind string

const (
	ResponseOK     ResponseKind = "Ok"
	ResponseError  ResponseKind = "Error"
	ResponseStatus ResponseKind = "Status"
	ResponseLogs   ResponseKind = "Logs"
	ResponseSpawn  ResponseKind = "Spawn"
)

// ErrorCode is a stable identifier for a control-endpoint failure,
// independent of the human-readable message, so CLI callers can branch
// on failure type without string matching.
type ErrorCode string

const (
	ErrUnknownService  ErrorCode = "unknown_service"
	ErrAlreadyRunning  ErrorCode = "already_running"
	ErrNotRunning      ErrorCode = "not_running"
	ErrDependencyFail  ErrorCode = "dependency_failed"
	ErrSpawnDenied     ErrorCode = "spawn_denied"
	ErrServicesRunning ErrorCode = "services_running"
	ErrConfigInvalid   ErrorCode = "config_invalid"
	ErrInternal        ErrorCode = "internal"
)

// Response is the envelope returned for every Request.
type Response struct {
	Kind ResponseKind `json:"kind"`

	// Populated when Kind == ResponseError.
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`

	// Populated when Kind == ResponseStatus.
	Services []ServiceStatus `json:"services,omitempty"`

	// Populated when Kind == ResponseLogs.
	LogLines []string `json:"log_lines,omitempty"`

	// Populated when Kind == ResponseSpawn.
	SpawnedPid int `json:"spawned_pid,omitempty"`
}

// ServiceStatus is one service's entry in a Status response.
type ServiceStatus struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"` // mirrors supervisor.State.String()
	Pid      int    `json:"pid,omitempty"`
	Since    string `json:"since"`
	Restarts int    `json:"restarts"`
	Reason   string `json:"reason,omitempty"`
	Orphan   bool   `json:"orphan,omitempty"`
}

// NewErrorResponse builds a typed error Response.
func NewErrorResponse(code ErrorCode, message string) Response {
	return Response{Kind: ResponseError, Code: code, Message: message}
}

// NewOKResponse builds the bare success Response used by Start/Stop/
// Restart/Shutdown/Purge.
func NewOKResponse() Response {
	return Response{Kind: ResponseOK}
}

// WriteFrame writes one length-prefixed JSON frame: a big-endian uint32
// byte length followed by the JSON-encoded value.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds max %d", len(data), maxFrameSize)
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame into v.
func ReadFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds max %d", size, maxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
