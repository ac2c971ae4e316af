// Package main — cmd/ldtcguard/main.go
//
// ldtcguard agent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/ldtcguard/profile.yaml.
//  2. Initialise structured logger (zap, configurable format/level).
//  3. Open (or generate) the Ed25519 signing key pair.
//  4. Open the append-only audit log.
//  5. Open BoltDB durable mirror storage; prune stale LEntry mirrors;
//     resume partition/Δt-guard state from the last snapshot if present.
//  6. Construct the measurement pipeline: window, partition manager,
//     scheduler + DtGuard, refusal arbiter, indicator exporter.
//  7. Start the Prometheus metrics server (loopback only).
//  8. Start the operator Unix-socket control server.
//  9. Start the telemetry ingest reader (stdin, NDJSON).
// 10. Run the scheduler: one primary driver goroutine advances the full
//     per-tick pipeline synchronously in a fixed order (sample append →
//     estimator → LREG write → smell tests → partition update → audit
//     `window_measured` → exporter).
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to scheduler, metrics, operator).
//  2. Flush the durable-mirror snapshot.
//  3. Close BoltDB, close the exporter's rate limiter.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ldtc-labs/ldtcguard/internal/arbiter"
	"github.com/ldtc-labs/ldtcguard/internal/audit"
	"github.com/ldtc-labs/ldtcguard/internal/config"
	"github.com/ldtc-labs/ldtcguard/internal/control"
	"github.com/ldtc-labs/ldtcguard/internal/diagnostics"
	"github.com/ldtc-labs/ldtcguard/internal/estimators"
	"github.com/ldtc-labs/ldtcguard/internal/exporter"
	"github.com/ldtc-labs/ldtcguard/internal/ingest"
	"github.com/ldtc-labs/ldtcguard/internal/keys"
	"github.com/ldtc-labs/ldtcguard/internal/lreg"
	"github.com/ldtc-labs/ldtcguard/internal/metrics"
	"github.com/ldtc-labs/ldtcguard/internal/observability"
	"github.com/ldtc-labs/ldtcguard/internal/operator"
	"github.com/ldtc-labs/ldtcguard/internal/partition"
	"github.com/ldtc-labs/ldtcguard/internal/scheduler"
	"github.com/ldtc-labs/ldtcguard/internal/smelltest"
	"github.com/ldtc-labs/ldtcguard/internal/storage"
	"github.com/ldtc-labs/ldtcguard/internal/window"
)

// channels is the fixed telemetry channel order {E,T,R,demand,io,H}.
// C starts as {E,T,R} (indices 0-2, "inside the
// loop"); Ex starts as {demand,io,H} (indices 3-5, "exchange with
// outside"); greedy regrowth may move indices between the two sets.
var channels = []string{"E", "T", "R", "demand", "io", "H"}

var defaultSeedC = []int{0, 1, 2}

func main() {
	configPath := flag.String("config", "/etc/ldtcguard/profile.yaml", "Path to profile.yaml")
	socketPath := flag.String("socket", "/run/ldtcguard/operator.sock", "Operator Unix socket path")
	privKeyPath := flag.String("priv-key", "/etc/ldtcguard/keys/node.priv.pem", "Ed25519 private key path")
	pubKeyPath := flag.String("pub-key", "/etc/ldtcguard/keys/node.pub.pem", "Ed25519 public key path")
	auditPath := flag.String("audit-log", "/var/lib/ldtcguard/audit.jsonl", "Append-only audit log path")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Bootstrap RNG seed")
	telemetryTimeout := flag.Duration("telemetry-timeout", 2*time.Second, "Staleness horizon for stdin telemetry")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("ldtcguard %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("ldtcguard starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("method", string(cfg.Method)),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priv, pub, err := keys.Ensure(keys.Paths{PrivPath: *privKeyPath, PubPath: *pubKeyPath})
	if err != nil {
		log.Fatal("key setup failed", zap.Error(err))
	}
	fpr, err := keys.FingerprintDER(pub)
	if err != nil {
		log.Fatal("key fingerprint failed", zap.Error(err))
	}
	log.Info("signing key ready", zap.String("fingerprint", fpr))

	auditLog, err := audit.Open(*auditPath, log)
	if err != nil {
		log.Fatal("audit log open failed", zap.Error(err))
	}

	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck

	pruned, err := db.PruneOldLEntries()
	if err != nil {
		log.Warn("LEntry mirror pruning failed", zap.Error(err))
	} else {
		log.Info("LEntry mirror pruned", zap.Int("deleted", pruned))
	}

	seedC := defaultSeedC
	if snap, err := db.GetPartitionSnapshot(); err != nil {
		log.Warn("partition snapshot load failed, starting from configured seed", zap.Error(err))
	} else if snap != nil {
		seedC = snap.C
		log.Info("resumed partition state", zap.Ints("c", snap.C), zap.Int("flips", snap.Flips))
	}
	partMgr := partition.New(len(channels), seedC)
	if snap, _ := db.GetPartitionSnapshot(); snap != nil && snap.Frozen {
		partMgr.Freeze(true)
	}

	sched := scheduler.New(cfg.NominalDt(), 256)
	dtGuard := scheduler.NewDtGuard(auditLog, scheduler.DtGuardConfig{
		MaxChangesPerHour:        cfg.DtGuard.MaxChangesPerHour,
		MinSecondsBetweenChanges: time.Duration(cfg.DtGuard.MinSecondsBetweenChanges * float64(time.Second)),
	})
	if snap, err := db.GetDtGuardSnapshot(); err == nil && snap != nil && snap.CurrentDtSec > 0 {
		sched.SetDt(time.Duration(snap.CurrentDtSec * float64(time.Second)))
	}

	arb := arbiter.New(arbiter.Config{
		MminDB:      cfg.MminDB,
		SocFloor:    cfg.SocFloor,
		TempCeiling: cfg.TempCeiling,
	}, log)

	exp, err := exporter.New(cfg.Exporter.OutDir, cfg.Exporter.RateHz, priv, exporter.IndicatorConfig{
		MminDB:    cfg.MminDB,
		ProfileID: int(cfg.ProfileIDValue),
	})
	if err != nil {
		log.Fatal("exporter init failed", zap.Error(err))
	}
	defer exp.Close()

	met := observability.NewMetrics()
	go func() {
		if err := met.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	win := window.New(cfg.WindowCapacity(), channels)
	adapter := ingest.New(channels, *telemetryTimeout, log)
	go adapter.RunLineReader(os.Stdin)
	ctl := control.New(os.Stdout)

	g := &guard{
		cfg:       cfg,
		log:       log,
		auditLog:  auditLog,
		lr:        lreg.New(),
		db:        db,
		partMgr:   partMgr,
		sched:     sched,
		dtGuard:   dtGuard,
		arb:       arb,
		exp:       exp,
		met:       met,
		win:       win,
		adapter:   adapter,
		ctl:       ctl,
		rng:       rand.New(rand.NewSource(*seed)),
		startedAt: time.Now(),
		openOmega: make(map[string]*omegaSpan),
	}

	opSrv := operator.NewServer(*socketPath, g, log)
	go func() {
		if err := opSrv.ListenAndServe(ctx); err != nil {
			log.Error("operator server error", zap.Error(err))
		}
	}()

	log.Info("pipeline ready, scheduler starting", zap.Duration("dt", sched.Dt()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx, g.onTick)
		close(schedDone)
	}()

	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))
	cancel()

	select {
	case <-schedDone:
		log.Info("scheduler stopped")
	case <-time.After(5 * time.Second):
		log.Warn("scheduler shutdown drain timeout")
	}

	g.snapshot()
	log.Info("ldtcguard shutdown complete")
}

// guard owns every pipeline component and implements operator.ControlPlane.
// onTick is only ever called from the scheduler's single driver goroutine;
// the omega/history fields it shares with operator-socket goroutines are
// guarded by omu.
type guard struct {
	cfg      *config.Profile
	log      *zap.Logger
	auditLog *audit.Log
	lr       *lreg.LREG
	db       *storage.DB
	partMgr  *partition.Manager
	sched    *scheduler.Scheduler
	dtGuard  *scheduler.DtGuard
	arb      *arbiter.Arbiter
	exp      *exporter.Exporter
	met      *observability.Metrics
	win      *window.Window
	adapter  *ingest.Adapter
	ctl      *control.Emitter
	rng      *rand.Rand

	startedAt        time.Time
	fallbackRecorded bool

	// History, read by smell tests each tick; written only from onTick.
	ciLoopHist  []lreg.CI
	ciExHist    []lreg.CI
	mDbHist     []float64
	ioHist      []float64
	socHist     []float64
	harvestHist []float64

	omu       sync.Mutex
	lastLLoop float64
	openOmega map[string]*omegaSpan
	lastSC1   bool
}

// omegaSpan tracks the state needed to evaluate SC1 once a named Ω
// perturbation scenario stops: the pre-perturbation baseline L_loop, the
// trough observed during the span, and the partition flip count at start
// (for the InvalidFlipDuringOmega check).
type omegaSpan struct {
	baseline     float64
	trough       float64
	startedAt    time.Time
	flipsAtStart int
}

func (g *guard) onTick(now time.Time) {
	g.met.TicksTotal.Inc()
	if jitters := g.sched.Jitters(); len(jitters) > 0 {
		g.met.JitterSecondsHistogram.Observe(jitters[len(jitters)-1].Seconds())
	}

	state := g.adapter.ReadState(now)
	if ingest.HasNaN(state) {
		// Stale or never-seen telemetry skips the tick entirely rather
		// than zero-filling the window.
		return
	}
	g.win.Append(state)
	if !g.win.Ready() {
		return
	}

	part := g.partMgr.Get()
	matrix := g.win.GetMatrix()
	res := estimators.EstimateL(g.rng, matrix.Data, part.C, part.Ex, *g.cfg)
	mDb := metrics.MDb(res.LLoop, res.LEx, 0)
	nc1 := mDb >= g.cfg.MminDB

	entry := lreg.Entry{
		LLoop:   res.LLoop,
		LEx:     res.LEx,
		CILoop:  lreg.CI{Lo: res.CILoop.Lo, Hi: res.CILoop.Hi},
		CIEx:    lreg.CI{Lo: res.CIEx.Lo, Hi: res.CIEx.Hi},
		MDB:     mDb,
		NC1Pass: nc1,
	}
	counter := g.lr.Write(entry)

	if res.Fell && !g.fallbackRecorded {
		g.fallbackRecorded = true
		g.met.EstimatorFallbacksTotal.Inc()
		_, _ = g.auditLog.Append(audit.Now(), "estimator_fallback", map[string]any{
			"configured_method": string(g.cfg.Method),
			"fallback":          "mi_kraskov",
		})
	}

	g.omu.Lock()
	g.lastLLoop = res.LLoop
	for _, span := range g.openOmega {
		if res.LLoop < span.trough {
			span.trough = res.LLoop
		}
	}
	lastSC1 := g.lastSC1
	g.omu.Unlock()

	g.ciLoopHist = appendBounded(g.ciLoopHist, entry.CILoop, g.cfg.SmellTest.CILookbackWindows*2)
	g.ciExHist = appendBounded(g.ciExHist, entry.CIEx, g.cfg.SmellTest.CILookbackWindows*2)
	g.mDbHist = appendBoundedF(g.mDbHist, mDb, g.cfg.SmellTest.MRiseLookbackWindows*2)
	g.ioHist = appendBoundedF(g.ioHist, state["io"], g.cfg.SmellTest.MRiseLookbackWindows*2)
	g.socHist = appendBoundedF(g.socHist, state["E"], g.cfg.SmellTest.MRiseLookbackWindows*2)
	g.harvestHist = appendBoundedF(g.harvestHist, state["H"], g.cfg.SmellTest.MRiseLookbackWindows*2)

	g.runSmellTests(now, entry, part)

	g.maybeRegrowPartition(now, part, mDb)

	_, _ = g.auditLog.Append(audit.Now(), "window_measured", map[string]any{
		"m_db":    mDb,
		"nc1":     nc1,
		"counter": counter,
		"method":  string(g.cfg.Method),
	})

	// Periodic stationarity annotation; consumed offline by calibration
	// tooling, never by the per-window decision itself.
	if counter%32 == 1 {
		checks := diagnostics.StationarityChecks(matrix.Data)
		adfFlags := make([]bool, len(checks))
		kpssFlags := make([]bool, len(checks))
		for i, c := range checks {
			adfFlags[i] = c.ADFNonStationary
			kpssFlags[i] = c.KPSSNonStationary
		}
		_, _ = g.auditLog.Append(audit.Now(), "stationarity_checked", map[string]any{
			"adf_nonstat":  adfFlags,
			"kpss_nonstat": kpssFlags,
			"nt_ratio":     diagnostics.VarNTRatio(len(matrix.Data), len(channels), g.cfg.PLag),
		})
	}

	g.met.WindowsMeasuredTotal.Inc()
	g.met.MDbGauge.Set(mDb)
	g.met.NC1PassTotal.WithLabelValues(strconv.FormatBool(nc1)).Inc()
	g.met.PartitionSizeGauge.Set(float64(len(part.C)))
	g.met.AuditChainLength.Set(float64(g.auditLog.Counter()))

	derived := g.lr.Derive()
	exported, _, err := g.exp.MaybeExport(g.auditLog, derived, lastSC1, now)
	if err != nil {
		g.log.Error("indicator export failed", zap.Error(err))
	} else if exported {
		g.met.IndicatorsExportedTotal.Inc()
	} else {
		g.met.IndicatorsRateLimitedTotal.Inc()
	}

	if counter%64 == 0 {
		g.snapshot()
	}
}

func (g *guard) runSmellTests(now time.Time, entry lreg.Entry, part partition.Partition) {
	cfg := g.cfg.SmellTest
	reason := ""
	switch {
	case smelltest.InvalidByCI(entry.CILoop, entry.CIEx, cfg):
		reason = "ci_halfwidth"
	case smelltest.InvalidByPartitionFlips(part.Flips, time.Since(g.startedAt).Seconds(), cfg):
		reason = "partition_flip_rate"
	case smelltest.InvalidByJitter(absJitterSeconds(g.sched.Jitters()), g.sched.Dt().Seconds(), cfg):
		reason = "jitter"
	case smelltest.InvalidByCIHistory(g.ciLoopHist, g.ciExHist, cfg, 0, 0, false):
		reason = "ci_history"
	case smelltest.ExogenousSubsidyRedFlag(g.mDbHist, g.ioHist, g.socHist, g.harvestHist, cfg):
		reason = "exogenous_subsidy"
	}
	if reason == "" {
		return
	}
	g.lr.Invalidate(reason)
	g.met.RunInvalidationsTotal.WithLabelValues(reason).Inc()
	_, _ = g.auditLog.Append(audit.Now(), "run_invalidated", map[string]any{"reason": reason})
}

func absJitterSeconds(js []time.Duration) []float64 {
	out := make([]float64, len(js))
	for i, j := range js {
		d := j.Seconds()
		if d < 0 {
			d = -d
		}
		out[i] = d
	}
	return out
}

func (g *guard) maybeRegrowPartition(now time.Time, part partition.Partition, currentM float64) {
	if part.Frozen || g.lr.Derive().Invalidated {
		return
	}

	n := len(channels)
	reduced := *g.cfg
	if reduced.NBoot > 8 {
		reduced.NBoot = 8
	}
	matrix := g.win.GetMatrix()

	eval := func(c []int) float64 {
		ex := complementOf(n, c)
		r := estimators.EstimateL(g.rng, matrix.Data, c, ex, reduced)
		return metrics.MDb(r.LLoop, r.LEx, 0)
	}

	suggested, deltaM := partition.GreedySuggestC(n, part.C, eval,
		g.cfg.Partition.GreedyTheta, g.cfg.Partition.GreedyLambda, g.cfg.Partition.GreedyCap)

	flip := g.partMgr.MaybeRegrow(suggested, deltaM, g.cfg.Partition.DeltaMMinDB, g.cfg.Partition.ConsecutiveRequired)
	g.partMgr.UpdateCurrentM(currentM)
	if flip == nil {
		return
	}
	g.met.PartitionFlipsTotal.Inc()
	_, _ = g.auditLog.Append(audit.Now(), "partition_flip", map[string]any{
		"streak":     flip.Streak,
		"delta_m_db": flip.DeltaMDB,
		"new_c":      flip.NewC,
	})
}

func complementOf(n int, c []int) []int {
	in := make(map[int]struct{}, len(c))
	for _, v := range c {
		in[v] = struct{}{}
	}
	out := make([]int, 0, n-len(c))
	for i := 0; i < n; i++ {
		if _, ok := in[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func appendBounded(s []lreg.CI, v lreg.CI, cap int) []lreg.CI {
	s = append(s, v)
	if cap > 0 && len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}

func appendBoundedF(s []float64, v float64, cap int) []float64 {
	s = append(s, v)
	if cap > 0 && len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}

func (g *guard) snapshot() {
	part := g.partMgr.Get()
	if err := g.db.PutPartitionSnapshot(storage.PartitionSnapshot{
		C: part.C, Ex: part.Ex, Flips: part.Flips, Frozen: part.Frozen,
	}); err != nil {
		g.log.Warn("partition snapshot write failed", zap.Error(err))
	}
	if err := g.db.PutDtGuardSnapshot(storage.DtGuardSnapshot{
		CurrentDtSec: g.sched.Dt().Seconds(),
	}); err != nil {
		g.log.Warn("dt-guard snapshot write failed", zap.Error(err))
	}
	derived := g.lr.Derive()
	if err := g.db.PutLEntry(storage.LEntryRecord{
		Counter: derived.Counter,
		MDb:     derived.MDB,
		NC1Pass: derived.NC1,
	}); err != nil {
		g.log.Warn("LEntry mirror write failed", zap.Error(err))
	}
}

// ─── operator.ControlPlane ─────────────────────────────────────────────────

func (g *guard) Status() operator.StatusSnapshot {
	d := g.lr.Derive()
	part := g.partMgr.Get()
	return operator.StatusSnapshot{
		NC1: d.NC1, MDb: d.MDB, Invalidated: d.Invalidated, Counter: d.Counter,
		C: part.C, Ex: part.Ex, Flips: part.Flips, Frozen: part.Frozen,
		DtSec: g.sched.Dt().Seconds(),
	}
}

func (g *guard) Freeze(on bool) { g.partMgr.Freeze(on) }

func (g *guard) SetDt(newDtSec float64, policyDigest string) (bool, string) {
	if newDtSec <= 0 {
		return false, "new_dt_sec must be > 0"
	}
	newDt := time.Duration(newDtSec * float64(time.Second))
	if !g.dtGuard.ChangeDt(g.sched, newDt, policyDigest) {
		g.lr.Invalidate("dt_change_rate_limit")
		return false, "rate_limit_refused"
	}
	return true, ""
}

func (g *guard) Omega(name, phase string) (bool, string) {
	g.omu.Lock()
	defer g.omu.Unlock()

	switch phase {
	case "start":
		if _, exists := g.openOmega[name]; exists {
			return false, "already_open"
		}
		g.openOmega[name] = &omegaSpan{
			baseline:     g.lastLLoop,
			trough:       g.lastLLoop,
			startedAt:    time.Now(),
			flipsAtStart: g.partMgr.Get().Flips,
		}
		// Partition is frozen for the duration of any open Ω span.
		g.partMgr.Freeze(true)
		_, _ = g.auditLog.Append(audit.Now(), "omega_"+name+"_start", map[string]any{})
		if err := g.ctl.SendOmega(name, map[string]any{"phase": "start"}); err != nil {
			g.log.Warn("omega forward failed", zap.Error(err))
		}
		return true, ""
	case "stop":
		span, exists := g.openOmega[name]
		if !exists {
			return false, "no_open_span"
		}
		delete(g.openOmega, name)
		if len(g.openOmega) == 0 {
			g.partMgr.Freeze(false)
		}
		_, _ = g.auditLog.Append(audit.Now(), "omega_"+name+"_stop", map[string]any{})
		if err := g.ctl.SendOmega(name, map[string]any{"phase": "stop"}); err != nil {
			g.log.Warn("omega forward failed", zap.Error(err))
		}

		tauRec := time.Since(span.startedAt).Seconds()
		mPost := g.lr.Derive().MDB
		pass, stats := metrics.SC1Evaluate(span.baseline, span.trough, mPost,
			g.cfg.Epsilon, tauRec, g.cfg.MminDB, g.cfg.TauMaxSec)
		g.lastSC1 = pass
		_, _ = g.auditLog.Append(audit.Now(), "sc1_evaluated", map[string]any{
			"name": name, "pass": pass, "delta": stats.Delta,
			"tau_rec_sec": stats.TauRec, "m_post_db": stats.MPost,
		})

		if smelltest.InvalidFlipDuringOmega(span.flipsAtStart, g.partMgr.Get().Flips, g.cfg.SmellTest) {
			g.lr.Invalidate("partition_flip_during_omega")
			g.met.RunInvalidationsTotal.WithLabelValues("partition_flip_during_omega").Inc()
			_, _ = g.auditLog.Append(audit.Now(), "run_invalidated", map[string]any{"reason": "partition_flip_during_omega"})
		}
		return true, ""
	default:
		return false, "phase must be start or stop"
	}
}

func (g *guard) Propose(cmd string) (bool, string) {
	state := g.adapter.ReadState(time.Now())
	derived := g.lr.Derive()

	d := g.arb.Decide(arbiter.State{E: state["E"], T: state["T"]}, derived.MDB, cmd)

	g.met.RefusalDecisionsTotal.WithLabelValues(string(d.Reason)).Inc()
	_, _ = g.auditLog.Append(audit.Now(), "refusal_event", map[string]any{
		"cmd":           cmd,
		"accept":        d.Accept,
		"reason":        string(d.Reason),
		"trefuse_ms":    d.TrefuseMs,
		"decision_hash": d.DecisionHash,
	})
	if err := g.ctl.SendAct(control.Act{AcceptCmd: d.Accept}); err != nil {
		g.log.Warn("control egress failed", zap.Error(err))
	}
	return d.Accept, string(d.Reason)
}

// ─── support ────────────────────────────────────────────────────────────────

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
