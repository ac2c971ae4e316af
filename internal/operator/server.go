// Package operator — server.go
//
// Unix domain socket server for ldtcguard privileged operator commands.
//
// Protocol: newline-delimited JSON over a Unix domain socket. The two
// privileged mutations (Δt governance and partition freeze) are dispatched
// through the ControlPlane; the status projection is built entirely from
// lreg.Derived, never raw L_loop/L_ex/CIs, so the enclave boundary holds
// here too.
//
// Socket path: /run/ldtcguard/operator.sock (configurable).
// Permissions: 0600, owned by root. Only root can connect.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"status"}
//	  → Response: {"ok":true,"nc1":true,"m_db":9.03,"invalidated":false,
//	               "counter":42,"c":[0,2,4],"ex":[1,3,5],"flips":1,
//	               "frozen":false,"dt_sec":0.1}
//
//	{"cmd":"freeze","on":true}
//	  → Freezes (or unfreezes) the partition manager. Regrowth suggestions
//	    are ignored while frozen.
//	  → Response: {"ok":true,"frozen":true}
//
//	{"cmd":"set_dt","new_dt_sec":0.2,"policy_digest":"..."}
//	  → Privileged Δt mutation via DtGuard.ChangeDt, subject to the
//	    hourly rate limit. Refusal invalidates the run.
//	  → Response: {"ok":true,"dt_sec":0.2} or {"ok":false,"error":"..."}
//
//	{"cmd":"omega","name":"thermal_spike","phase":"start"}
//	{"cmd":"omega","name":"thermal_spike","phase":"stop"}
//	  → Marks the start/stop of a named Ω perturbation scenario (the
//	    omega_<name>_start/_stop audit pairing) and, on "stop", triggers
//	    the SC1 sufficiency evaluation for that span.
//	  → Response: {"ok":true} or {"ok":false,"error":"..."}
//
//	{"cmd":"propose","name":"hard_shutdown"}
//	  → Submits an externally issued risky command to the refusal
//	    arbiter. The decision is audited as a refusal_event and
//	    forwarded on the control egress channel; the response reports only
//	    the verdict.
//	  → Response: {"ok":true,"accept":false,"reason":"soc_floor"}
//
// Security:
//   - Socket is created with 0600 permissions; only root can connect.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection deadline: one 10s deadline covers the read and the write.
//   - Every accepted mutation is also recorded by the caller's own audit
//     log entry (dt_changed, run_invalidated) — this server only dispatches.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// StatusSnapshot is the read-only projection returned by the "status"
// command. Every field is a derived/already-public quantity.
type StatusSnapshot struct {
	NC1         bool    `json:"nc1"`
	MDb         float64 `json:"m_db"`
	Invalidated bool    `json:"invalidated"`
	Counter     uint64  `json:"counter"`
	C           []int   `json:"c"`
	Ex          []int   `json:"ex"`
	Flips       int     `json:"flips"`
	Frozen      bool    `json:"frozen"`
	DtSec       float64 `json:"dt_sec"`
}

// ControlPlane is the interface the operator server uses to read status
// and dispatch the two privileged mutations. Implemented by the process
// wiring in cmd/ldtcguard.
type ControlPlane interface {
	// Status returns the current read-only status projection.
	Status() StatusSnapshot

	// Freeze sets or clears the partition manager's freeze flag.
	Freeze(on bool)

	// SetDt attempts a privileged Δt mutation through DtGuard. ok is false
	// (with reason) if the hourly rate limit refused the change.
	SetDt(newDtSec float64, policyDigest string) (ok bool, reason string)

	// Omega starts or stops a named Ω perturbation scenario span. phase is
	// "start" or "stop". ok is false (with reason) for an unrecognized
	// phase, a duplicate start, or a stop with no matching open start.
	Omega(name, phase string) (ok bool, reason string)

	// Propose submits an externally issued risky command to the refusal
	// arbiter against the current plant state and last derived margin.
	Propose(cmd string) (accept bool, reason string)
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd          string  `json:"cmd"` // status | freeze | set_dt | omega | propose
	On           bool    `json:"on,omitempty"`
	NewDtSec     float64 `json:"new_dt_sec,omitempty"`
	PolicyDigest string  `json:"policy_digest,omitempty"`
	Name         string  `json:"name,omitempty"`
	Phase        string  `json:"phase,omitempty"` // start | stop
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Frozen bool    `json:"frozen,omitempty"`
	DtSec  float64 `json:"dt_sec,omitempty"`
	Accept *bool   `json:"accept,omitempty"`
	Reason string  `json:"reason,omitempty"`
	*StatusSnapshot
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	plane      ControlPlane
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server.
func NewServer(socketPath string, plane ControlPlane, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		plane:      plane,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server. Removes any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("operator: mkdir socket dir: %w", err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

// handleConn reads one JSON request, executes the command, writes one JSON
// response.
func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "status":
		return s.cmdStatus()
	case "freeze":
		return s.cmdFreeze(req)
	case "set_dt":
		return s.cmdSetDt(req)
	case "omega":
		return s.cmdOmega(req)
	case "propose":
		return s.cmdPropose(req)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdStatus() Response {
	snap := s.plane.Status()
	return Response{OK: true, StatusSnapshot: &snap}
}

func (s *Server) cmdFreeze(req Request) Response {
	s.plane.Freeze(req.On)
	s.log.Info("operator: partition freeze set", zap.Bool("on", req.On))
	return Response{OK: true, Frozen: req.On}
}

func (s *Server) cmdSetDt(req Request) Response {
	if req.NewDtSec <= 0 {
		return Response{OK: false, Error: "new_dt_sec must be > 0"}
	}
	ok, reason := s.plane.SetDt(req.NewDtSec, req.PolicyDigest)
	if !ok {
		s.log.Warn("operator: set_dt refused", zap.String("reason", reason))
		return Response{OK: false, Error: reason}
	}
	s.log.Info("operator: dt changed", zap.Float64("new_dt_sec", req.NewDtSec))
	return Response{OK: true, DtSec: req.NewDtSec}
}

func (s *Server) cmdOmega(req Request) Response {
	if req.Name == "" || (req.Phase != "start" && req.Phase != "stop") {
		return Response{OK: false, Error: "omega requires name and phase in {start,stop}"}
	}
	ok, reason := s.plane.Omega(req.Name, req.Phase)
	if !ok {
		s.log.Warn("operator: omega refused", zap.String("name", req.Name), zap.String("phase", req.Phase), zap.String("reason", reason))
		return Response{OK: false, Error: reason}
	}
	s.log.Info("operator: omega", zap.String("name", req.Name), zap.String("phase", req.Phase))
	return Response{OK: true}
}

func (s *Server) cmdPropose(req Request) Response {
	if req.Name == "" {
		return Response{OK: false, Error: "propose requires name"}
	}
	accept, reason := s.plane.Propose(req.Name)
	s.log.Info("operator: command proposed",
		zap.String("cmd", req.Name), zap.Bool("accept", accept), zap.String("reason", reason))
	return Response{OK: true, Accept: &accept, Reason: reason}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
