// Package control implements the control-egress half of the plant
// interface: newline-delimited JSON actuation and Ω-forwarding messages on
// a caller-supplied writer. The plant and its transport are external
// collaborators; this package only shapes and serializes the two message
// kinds the core emits, behind one mutex so the scheduler driver goroutine
// and the operator-socket goroutines can share an emitter.
package control

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Act is the actuation payload: throttle/cool/repair setpoints in [0,1]
// plus the refusal arbiter's verdict on the pending risky command.
type Act struct {
	Throttle  float64 `json:"throttle"`
	Cool      float64 `json:"cool"`
	Repair    float64 `json:"repair"`
	AcceptCmd bool    `json:"accept_cmd"`
}

// Emitter serializes control messages onto a single writer, one JSON
// object per line. The line is the atomic unit: each Send* call writes
// exactly one complete line or returns an error without partial output.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates an Emitter writing to w.
func New(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// SendAct emits one {"act": {...}} line.
func (e *Emitter) SendAct(a Act) error {
	return e.send(map[string]any{"act": a})
}

// SendOmega forwards a named Ω perturbation to the plant as one
// {"omega": {"name": ..., "args": {...}}} line.
func (e *Emitter) SendOmega(name string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	return e.send(map[string]any{"omega": map[string]any{"name": name, "args": args}})
}

func (e *Emitter) send(msg map[string]any) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("control: marshal: %w", err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("control: write: %w", err)
	}
	return nil
}
