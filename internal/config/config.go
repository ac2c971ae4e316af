// Package config provides configuration loading, validation, and defaults
// for the ldtcguard measurement harness.
//
// Configuration file: /etc/ldtcguard/profile.yaml (default)
// Schema version: 1
//
// Validation:
//   - Every field has a default; values present in the file override it.
//   - Numeric ranges enforced (dt > 0, window_sec > 0, p_lag >= 1, ...).
//   - Invalid config on startup: the process refuses to start (fatal error).
//
// This package only carries the concern of turning a profile file into
// the typed Profile struct every other component consumes; any
// interactive front-end lives outside the measurement pipeline.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Method names the estimator dispatch variant. Kept as a string in the
// profile (matches the wire/YAML representation); internal/estimators maps
// it onto a compile-time-dispatched tagged variant.
type Method string

const (
	MethodLinear              Method = "linear"
	MethodMI                  Method = "mi"
	MethodMIKraskov           Method = "mi_kraskov"
	MethodTransferEntropy     Method = "transfer_entropy"
	MethodDirectedInformation Method = "directed_information"
)

// ProfileID distinguishes the baseline profile from the calibrated one.
type ProfileID int

const (
	ProfileR0    ProfileID = 0 // baseline
	ProfileRStar ProfileID = 1 // calibrated
)

// Profile is the root configuration structure for ldtcguard. All fields
// have defaults; see Defaults() for values.
type Profile struct {
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this measurement node in the startup log line.
	NodeID string `yaml:"node_id"`

	// Dt is the nominal scheduler period in seconds.
	Dt float64 `yaml:"dt"`

	// WindowSec is the sliding window duration in seconds; window capacity
	// is ceil(WindowSec / Dt).
	WindowSec float64 `yaml:"window_sec"`

	// Method selects the estimator variant.
	Method Method `yaml:"method"`

	// PLag is the VAR lag order used by the linear estimator.
	PLag int `yaml:"p_lag"`

	// MILag is the lag used by the mi/mi_kraskov estimators.
	MILag int `yaml:"mi_lag"`

	// MIK is the k-nearest-neighbor parameter for mi_kraskov.
	MIK int `yaml:"mi_k"`

	// NBoot is the number of circular block-bootstrap draws per window.
	NBoot int `yaml:"n_boot"`

	// MminDB is the NC1/SC1 loop-dominance margin floor in dB.
	MminDB float64 `yaml:"m_min_db"`

	// Epsilon is the SC1 maximum fractional L_loop drop.
	Epsilon float64 `yaml:"epsilon"`

	// TauMaxSec is the SC1 maximum recovery time in seconds.
	TauMaxSec float64 `yaml:"tau_max_sec"`

	// Sigma is an advisory additive margin. It is loaded onto the profile
	// only: it is NOT consumed by m_db (see internal/metrics) and is not
	// written to any audit record or artifact.
	Sigma float64 `yaml:"sigma"`

	// BaselineSec is the configured baseline warm-up duration in seconds.
	// It is carried on the profile only; the measurement loop does not read
	// it, so Ω scenarios and regrowth are not held back by it.
	BaselineSec float64 `yaml:"baseline_sec"`

	// ProfileIDValue selects R0 (baseline) or R* (calibrated) for the
	// indicator payload's profile_id field.
	ProfileIDValue ProfileID `yaml:"profile_id"`

	// SocFloor and TempCeiling are refusal-arbiter safety limits.
	SocFloor    float64 `yaml:"soc_floor"`
	TempCeiling float64 `yaml:"temp_ceiling"`

	SmellTest     SmellTestConfig     `yaml:"smell_test"`
	DtGuard       DtGuardConfig       `yaml:"dt_guard"`
	Partition     PartitionConfig     `yaml:"partition"`
	Exporter      ExporterConfig      `yaml:"exporter"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SmellTestConfig carries the smell-test engine's constant thresholds.
type SmellTestConfig struct {
	MaxCIHalfwidth                 float64 `yaml:"max_ci_halfwidth"`
	CILookbackWindows              int     `yaml:"ci_lookback_windows"`
	CIInflateFactor                float64 `yaml:"ci_inflate_factor"`
	MaxPartitionFlipsPerHour       int     `yaml:"max_partition_flips_per_hour"`
	ForbidPartitionFlipDuringOmega bool    `yaml:"forbid_partition_flip_during_omega"`
	JitterP95RelMax                float64 `yaml:"jitter_p95_rel_max"`
	MinMRiseDB                     float64 `yaml:"min_m_rise_db"`
	MRiseLookbackWindows           int     `yaml:"m_rise_lookback_windows"`
	IOSuspiciousThreshold          float64 `yaml:"io_suspicious_threshold"`
	MinHarvestForSOCGain           float64 `yaml:"min_harvest_for_soc_gain"`
}

// DtGuardConfig carries the Δt-governance rate limits.
type DtGuardConfig struct {
	MaxChangesPerHour        int     `yaml:"max_changes_per_hour"`
	MinSecondsBetweenChanges float64 `yaml:"min_seconds_between_changes"`
}

// PartitionConfig carries the partition manager's hysteresis parameters.
type PartitionConfig struct {
	DeltaMMinDB         float64 `yaml:"delta_m_min_db"`
	ConsecutiveRequired int     `yaml:"consecutive_required"`
	GreedyTheta         float64 `yaml:"greedy_theta"`
	GreedyLambda        float64 `yaml:"greedy_lambda"`
	GreedyCap           int     `yaml:"greedy_cap"`
}

// ExporterConfig carries the indicator exporter's emission parameters.
type ExporterConfig struct {
	RateHz float64 `yaml:"rate_hz"`
	OutDir string  `yaml:"out_dir"`
}

// StorageConfig holds the durable-mirror BoltDB parameters.
type StorageConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// DefaultDBPath mirrors the storage package default for use in config defaults.
const DefaultDBPath = "/var/lib/ldtcguard/ldtcguard.db"

// Defaults returns a Profile populated with all default values.
func Defaults() Profile {
	hostname, _ := os.Hostname()
	return Profile{
		SchemaVersion:  "1",
		NodeID:         hostname,
		Dt:             0.1,
		WindowSec:      30,
		Method:         MethodLinear,
		PLag:           2,
		MILag:          1,
		MIK:            5,
		NBoot:          64,
		MminDB:         3.0,
		Epsilon:        0.2,
		TauMaxSec:      10.0,
		Sigma:          0.0,
		BaselineSec:    5.0,
		ProfileIDValue: ProfileR0,
		SocFloor:       0.15,
		TempCeiling:    0.85,
		SmellTest: SmellTestConfig{
			MaxCIHalfwidth:                 1.5,
			CILookbackWindows:              20,
			CIInflateFactor:                3.0,
			MaxPartitionFlipsPerHour:       6,
			ForbidPartitionFlipDuringOmega: true,
			JitterP95RelMax:                0.5,
			MinMRiseDB:                     3.0,
			MRiseLookbackWindows:           20,
			IOSuspiciousThreshold:          0.7,
			MinHarvestForSOCGain:           0.2,
		},
		DtGuard: DtGuardConfig{
			MaxChangesPerHour:        3,
			MinSecondsBetweenChanges: 1.0,
		},
		Partition: PartitionConfig{
			DeltaMMinDB:         0.5,
			ConsecutiveRequired: 3,
			GreedyTheta:         0.01,
			GreedyLambda:        0.05,
			GreedyCap:           0,
		},
		Exporter: ExporterConfig{
			RateHz: 2.0,
			OutDir: "artifacts/indicators",
		},
		Storage: StorageConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9096",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a profile file from the given path.
// Returns the merged profile (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Profile, error) {
	p := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&p); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &p, nil
}

// Validate checks all profile fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(p *Profile) error {
	var errs []string

	if p.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", p.SchemaVersion))
	}
	if p.Dt <= 0 {
		errs = append(errs, fmt.Sprintf("dt must be > 0, got %f", p.Dt))
	}
	if p.WindowSec <= 0 {
		errs = append(errs, fmt.Sprintf("window_sec must be > 0, got %f", p.WindowSec))
	}
	switch p.Method {
	case MethodLinear, MethodMI, MethodMIKraskov, MethodTransferEntropy, MethodDirectedInformation:
	default:
		errs = append(errs, fmt.Sprintf("method %q is not a recognized estimator variant", p.Method))
	}
	if p.PLag < 1 {
		errs = append(errs, fmt.Sprintf("p_lag must be >= 1, got %d", p.PLag))
	}
	if p.MILag < 1 {
		errs = append(errs, fmt.Sprintf("mi_lag must be >= 1, got %d", p.MILag))
	}
	if p.MIK < 1 {
		errs = append(errs, fmt.Sprintf("mi_k must be >= 1, got %d", p.MIK))
	}
	if p.NBoot < 1 {
		errs = append(errs, fmt.Sprintf("n_boot must be >= 1, got %d", p.NBoot))
	}
	if p.MminDB < 0 {
		errs = append(errs, fmt.Sprintf("m_min_db must be >= 0, got %f", p.MminDB))
	}
	if p.Epsilon < 0 || p.Epsilon > 1 {
		errs = append(errs, fmt.Sprintf("epsilon must be in [0,1], got %f", p.Epsilon))
	}
	if p.TauMaxSec <= 0 {
		errs = append(errs, fmt.Sprintf("tau_max_sec must be > 0, got %f", p.TauMaxSec))
	}
	if p.SocFloor < 0 || p.SocFloor > 1 {
		errs = append(errs, fmt.Sprintf("soc_floor must be in [0,1], got %f", p.SocFloor))
	}
	if p.TempCeiling < 0 || p.TempCeiling > 1 {
		errs = append(errs, fmt.Sprintf("temp_ceiling must be in [0,1], got %f", p.TempCeiling))
	}
	if p.SmellTest.MaxCIHalfwidth <= 0 {
		errs = append(errs, "smell_test.max_ci_halfwidth must be > 0")
	}
	if p.SmellTest.CILookbackWindows < 1 {
		errs = append(errs, "smell_test.ci_lookback_windows must be >= 1")
	}
	if p.DtGuard.MaxChangesPerHour < 0 {
		errs = append(errs, "dt_guard.max_changes_per_hour must be >= 0")
	}
	if p.DtGuard.MinSecondsBetweenChanges < 0 {
		errs = append(errs, "dt_guard.min_seconds_between_changes must be >= 0")
	}
	if p.Partition.ConsecutiveRequired < 1 {
		errs = append(errs, "partition.consecutive_required must be >= 1")
	}
	if p.Exporter.RateHz <= 0 {
		errs = append(errs, "exporter.rate_hz must be > 0")
	}
	if p.Exporter.OutDir == "" {
		errs = append(errs, "exporter.out_dir must not be empty")
	}
	if p.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if p.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", p.Storage.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("profile validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// WindowCapacity returns ceil(WindowSec / Dt), the sliding window
// capacity.
func (p *Profile) WindowCapacity() int {
	n := p.WindowSec / p.Dt
	c := int(n)
	if float64(c) < n {
		c++
	}
	if c < 1 {
		c = 1
	}
	return c
}

// NominalDt returns the nominal scheduler period as a time.Duration.
func (p *Profile) NominalDt() time.Duration {
	return time.Duration(p.Dt * float64(time.Second))
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
