// Package reporting renders the post-hoc artifacts a trial produces from
// its audit log alone: a paper-style timeline of the normalized margin, a
// table of SC1 evaluations, and a per-trial manifest binding the run's
// profile, seeds, and audit hash head together.
//
// Every quantity in this package's output is derived strictly from
// audit-log events (M_db, counters, hashes, event names) — it never opens
// internal/lreg and never sees a raw L_loop/L_ex value, so the enclave
// boundary enforced elsewhere holds in the rendered artifacts too. Every
// pass below is a single bufio.Scanner sweep over the audit JSONL.
package reporting

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// auditEvent mirrors the on-disk shape of one internal/audit.Record,
// tolerant of any valid JSON in details.
type auditEvent struct {
	Counter  uint64         `json:"counter"`
	Ts       float64        `json:"ts"`
	Event    string         `json:"event"`
	Details  map[string]any `json:"details"`
	PrevHash string         `json:"prev_hash"`
	Hash     string         `json:"hash"`
}

// TimelinePoint is one per-window sample of the rendered timeline: a
// normalized loop-dominance trace derived from M_db alone, never from the
// raw L_loop the enclave never exposes.
type TimelinePoint struct {
	Ts             float64 `json:"ts"`
	Counter        uint64  `json:"counter"`
	MDb            float64 `json:"m_db"`
	NormalizedLoop float64 `json:"normalized_loop"` // sigmoid(M_db/ScaleDB), in (0,1)
}

// OmegaSpan is one Ω perturbation scenario window, paired from
// omega_<name>_start / omega_<name>_stop audit events.
type OmegaSpan struct {
	Name     string  `json:"name"`
	StartTs  float64 `json:"start_ts"`
	StopTs   float64 `json:"stop_ts"`
	StartCtr uint64  `json:"start_counter"`
	StopCtr  uint64  `json:"stop_counter"`
}

// TickEvent is one tick-worthy non-window event: a partition flip, a run
// invalidation, or a refusal.
type TickEvent struct {
	Ts      float64        `json:"ts"`
	Counter uint64         `json:"counter"`
	Kind    string         `json:"kind"` // partition_flip | run_invalidated | refusal_event
	Details map[string]any `json:"details"`
}

// SC1Row is one row of the SC1 evaluation table, rendered only from
// already-derived fields (never ci_loop/ci_ex/L_loop/L_ex).
type SC1Row struct {
	OmegaName string  `json:"omega_name"`
	Pass      bool    `json:"sc1_pass"`
	Delta     float64 `json:"delta"`
	TauRecSec float64 `json:"tau_rec_sec"`
	MPostDB   float64 `json:"m_post_db"`
}

// ScaleDB is the logistic scale used to fold M_db into a (0,1) display
// trace: normalized_loop = 1 / (1 + exp(-M_db/ScaleDB)).
const ScaleDB = 6.0

// Manifest is the per-trial summary written alongside the rendered
// artifacts, binding the run's configuration to its audit hash head.
type Manifest struct {
	NodeID          string  `json:"node_id"`
	ProfileID       int     `json:"profile_id"`
	Method          string  `json:"method"`
	DtSec           float64 `json:"dt_sec"`
	Seed            int64   `json:"seed"`
	AuditHashHead   string  `json:"audit_hash_head"`
	RecordCount     uint64  `json:"record_count"`
	IndicatorSchema struct {
		MqStepDB float64 `json:"mq_step_db"`
		MqBits   int     `json:"mq_bits"`
	} `json:"indicator_schema"`
}

// bannedRawKeys mirrors the enclave's forbidden raw-LREG fields; any
// discovered in audit details causes ParseAuditLog to fail loudly rather
// than silently rendering a compromised timeline.
var bannedRawKeys = [...]string{"L_loop", "L_ex", "ci_loop", "ci_ex"}

// ErrRawLREGInAudit is returned when a parsed audit record's details
// carries a banned raw-LREG key, signalling that the enclave boundary was
// already violated upstream.
type ErrRawLREGInAudit struct {
	Counter uint64
	Key     string
}

func (e *ErrRawLREGInAudit) Error() string {
	return fmt.Sprintf("reporting: audit record %d carries banned raw-LREG key %q", e.Counter, e.Key)
}

// ParseAuditLog streams the audit log at path once, returning the derived
// timeline, Ω spans, and tick-worthy events in a single pass.
func ParseAuditLog(path string) ([]TimelinePoint, []OmegaSpan, []TickEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reporting: open %q: %w", path, err)
	}
	defer f.Close()

	var (
		timeline []TimelinePoint
		ticks    []TickEvent
		openSpan = map[string]OmegaSpan{}
		spans    []OmegaSpan
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev auditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, nil, nil, fmt.Errorf("reporting: parse audit line: %w", err)
		}
		for _, k := range bannedRawKeys {
			if _, ok := ev.Details[k]; ok {
				return nil, nil, nil, &ErrRawLREGInAudit{Counter: ev.Counter, Key: k}
			}
		}

		switch {
		case ev.Event == "window_measured":
			mDb, _ := ev.Details["m_db"].(float64)
			timeline = append(timeline, TimelinePoint{
				Ts:             ev.Ts,
				Counter:        ev.Counter,
				MDb:            mDb,
				NormalizedLoop: normalizeMDb(mDb),
			})
		case ev.Event == "partition_flip" || ev.Event == "run_invalidated" || ev.Event == "refusal_event":
			ticks = append(ticks, TickEvent{Ts: ev.Ts, Counter: ev.Counter, Kind: ev.Event, Details: ev.Details})
		case len(ev.Event) > len("omega_") && ev.Event[len(ev.Event)-6:] == "_start" && hasPrefix(ev.Event, "omega_"):
			name := ev.Event[len("omega_") : len(ev.Event)-6]
			openSpan[name] = OmegaSpan{Name: name, StartTs: ev.Ts, StartCtr: ev.Counter}
		case len(ev.Event) > len("omega_") && ev.Event[len(ev.Event)-5:] == "_stop" && hasPrefix(ev.Event, "omega_"):
			name := ev.Event[len("omega_") : len(ev.Event)-5]
			if span, ok := openSpan[name]; ok {
				span.StopTs = ev.Ts
				span.StopCtr = ev.Counter
				spans = append(spans, span)
				delete(openSpan, name)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("reporting: scan %q: %w", path, err)
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].StartCtr < spans[j].StartCtr })
	return timeline, spans, ticks, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ParseSC1Rows streams the audit log once more, collecting every
// sc1_evaluated event into an SC1Row. Rows keep audit order.
func ParseSC1Rows(path string) ([]SC1Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reporting: open %q: %w", path, err)
	}
	defer f.Close()

	var rows []SC1Row
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev auditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("reporting: parse audit line: %w", err)
		}
		if ev.Event != "sc1_evaluated" {
			continue
		}
		name, _ := ev.Details["name"].(string)
		pass, _ := ev.Details["pass"].(bool)
		delta, _ := ev.Details["delta"].(float64)
		tauRec, _ := ev.Details["tau_rec_sec"].(float64)
		mPost, _ := ev.Details["m_post_db"].(float64)
		rows = append(rows, SC1Row{
			OmegaName: name,
			Pass:      pass,
			Delta:     delta,
			TauRecSec: tauRec,
			MPostDB:   mPost,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reporting: scan %q: %w", path, err)
	}
	return rows, nil
}

// normalizeMDb folds a margin in dB into (0,1) via a logistic squash, so
// rendered timelines show a normalized loop trace derived from M alone.
func normalizeMDb(mDb float64) float64 {
	return 1.0 / (1.0 + math.Exp(-mDb/ScaleDB))
}

// WriteTimelineCSV renders the timeline as CSV columns
// ts,counter,m_db,normalized_loop.
func WriteTimelineCSV(w io.Writer, timeline []TimelinePoint) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()
	if err := cw.Write([]string{"ts", "counter", "m_db", "normalized_loop"}); err != nil {
		return err
	}
	for _, p := range timeline {
		if err := cw.Write([]string{
			fmt.Sprintf("%.6f", p.Ts),
			fmt.Sprintf("%d", p.Counter),
			fmt.Sprintf("%.6f", p.MDb),
			fmt.Sprintf("%.6f", p.NormalizedLoop),
		}); err != nil {
			return err
		}
	}
	return cw.Error()
}

// WriteSC1TableCSV renders the SC1 evaluation table as CSV. Every field is
// already a derived scalar; this function additionally refuses (returns an
// error without writing) if a caller ever manages to smuggle a banned key
// into the row set via a forged label.
func WriteSC1TableCSV(w io.Writer, rows []SC1Row) error {
	for _, r := range rows {
		for _, k := range bannedRawKeys {
			if r.OmegaName == k {
				return fmt.Errorf("reporting: refusing SC1 row labelled with banned key %q", k)
			}
		}
	}
	cw := csv.NewWriter(w)
	defer cw.Flush()
	if err := cw.Write([]string{"omega_name", "sc1_pass", "delta", "tau_rec_sec", "m_post_db"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.OmegaName,
			fmt.Sprintf("%t", r.Pass),
			fmt.Sprintf("%.6f", r.Delta),
			fmt.Sprintf("%.6f", r.TauRecSec),
			fmt.Sprintf("%.6f", r.MPostDB),
		}); err != nil {
			return err
		}
	}
	return cw.Error()
}

// WriteManifest writes m as indented JSON to w.
func WriteManifest(w io.Writer, m Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
