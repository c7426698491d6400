// Package config holds the typed, validated configuration records the core
// control loops consume. Parsing and schema validation are themselves
// external collaborators per the design brief, but this package still
// exists so real binaries (cmd/cake-autorate, cmd/cake-steer) have
// something concrete to populate from YAML via viper.
package config

import (
	"fmt"
	"regexp"
)

// IdentifierPattern is the whitelist every user-visible identifier the core
// eventually splices into a router command must satisfy: wan_name, queue
// names, and the mangle rule comment.
var IdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

const maxIdentifierLen = 64

// ValidateIdentifier enforces the identifier whitelist described in spec
// §6 and §4.12. It is the same class of check as SQL parameter binding: any
// value that reaches a router command must pass through here first.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("identifier %q exceeds max length %d", name, maxIdentifierLen)
	}
	if !IdentifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q contains disallowed characters", name)
	}
	return nil
}

// FallbackPolicy selects the connectivity-fallback behavior for an autorate
// instance (spec §4.10).
type FallbackPolicy string

const (
	FallbackFreeze              FallbackPolicy = "freeze"
	FallbackUseLastRTT          FallbackPolicy = "use_last_rtt"
	FallbackGracefulDegradation FallbackPolicy = "graceful_degradation"
)

// DirectionConfig carries the per-direction floors, ceiling, and step
// parameters of spec §3.
type DirectionConfig struct {
	FloorRed     float64 `mapstructure:"floor_red" yaml:"floor_red"`
	FloorSoftRed float64 `mapstructure:"floor_soft_red" yaml:"floor_soft_red"`
	FloorYellow  float64 `mapstructure:"floor_yellow" yaml:"floor_yellow"`
	FloorGreen   float64 `mapstructure:"floor_green" yaml:"floor_green"`
	Ceiling      float64 `mapstructure:"ceiling" yaml:"ceiling"`
	StepUp       float64 `mapstructure:"step_up" yaml:"step_up"`
	FactorDown   float64 `mapstructure:"factor_down" yaml:"factor_down"`
	// FourState selects {GREEN,YELLOW,SOFT_RED,RED}; when false the queue
	// controller collapses SOFT_RED onto YELLOW (3-state).
	FourState bool `mapstructure:"four_state" yaml:"four_state"`
}

// ValidateFloors checks Invariant F: floor_red <= floor_soft_red <=
// floor_yellow <= floor_green <= ceiling. Three-state configs must have
// floor_soft_red == floor_yellow (the loader fills it in when omitted).
func (d DirectionConfig) ValidateFloors() error {
	if !(d.FloorRed <= d.FloorSoftRed &&
		d.FloorSoftRed <= d.FloorYellow &&
		d.FloorYellow <= d.FloorGreen &&
		d.FloorGreen <= d.Ceiling) {
		return fmt.Errorf("floor ordering violated: red=%v soft_red=%v yellow=%v green=%v ceiling=%v",
			d.FloorRed, d.FloorSoftRed, d.FloorYellow, d.FloorGreen, d.Ceiling)
	}
	if !d.FourState && d.FloorSoftRed != d.FloorYellow {
		return fmt.Errorf("three-state direction must set floor_soft_red == floor_yellow")
	}
	if d.StepUp <= 0 {
		return fmt.Errorf("step_up must be > 0")
	}
	if d.FactorDown <= 0 || d.FactorDown >= 1 {
		return fmt.Errorf("factor_down must be in (0,1)")
	}
	return nil
}

// RouterConfig selects and parameterizes the router transport of spec
// §4.12: rest (fasthttp against RouterOS's REST API) or ssh
// (golang.org/x/crypto/ssh against its CLI). Exactly one of the two
// credential blocks is used, selected by Transport.
type RouterConfig struct {
	Transport      string `mapstructure:"transport" yaml:"transport"` // "rest" or "ssh"
	RESTBaseURL    string `mapstructure:"rest_base_url" yaml:"rest_base_url"`
	RESTUsername   string `mapstructure:"rest_username" yaml:"rest_username"`
	RESTPassword   string `mapstructure:"rest_password" yaml:"rest_password"`
	RESTTimeoutMs  int    `mapstructure:"rest_timeout_ms" yaml:"rest_timeout_ms"`
	SSHAddr        string `mapstructure:"ssh_addr" yaml:"ssh_addr"`
	SSHUsername    string `mapstructure:"ssh_username" yaml:"ssh_username"`
	SSHPassword    string `mapstructure:"ssh_password" yaml:"ssh_password"`
	SSHTimeoutMs   int    `mapstructure:"ssh_timeout_ms" yaml:"ssh_timeout_ms"`
}

// Validate checks that the selected transport has the fields it needs.
func (r RouterConfig) Validate() error {
	switch r.Transport {
	case "rest":
		if r.RESTBaseURL == "" {
			return fmt.Errorf("router.rest_base_url is required for transport=rest")
		}
	case "ssh":
		if r.SSHAddr == "" {
			return fmt.Errorf("router.ssh_addr is required for transport=ssh")
		}
	default:
		return fmt.Errorf("router.transport must be \"rest\" or \"ssh\", got %q", r.Transport)
	}
	return nil
}

// ObservabilityConfig configures the ambient status/metrics/debug surfaces
// every control-loop binary carries regardless of the spec's feature
// Non-goals (SPEC_FULL §9): these are infrastructure, not scoped-out
// functionality.
type ObservabilityConfig struct {
	StatusAddr string `mapstructure:"status_addr" yaml:"status_addr"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	DebugAddr  string `mapstructure:"debug_addr" yaml:"debug_addr"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	HistorySize int   `mapstructure:"history_size" yaml:"history_size"`
}

// AutorateConfig is the immutable per-instance record consumed by
// internal/autorate. It is the Go analogue of the teacher's Config struct,
// generalized to the spec's per-direction/4-state model.
type AutorateConfig struct {
	WANName            string          `mapstructure:"wan_name" yaml:"wan_name"`
	Reflectors         []string        `mapstructure:"reflectors" yaml:"reflectors"`
	MedianOfThree      bool            `mapstructure:"median_of_three" yaml:"median_of_three"`
	Router             RouterConfig         `mapstructure:"router" yaml:"router"`
	Observability      ObservabilityConfig  `mapstructure:"observability" yaml:"observability"`
	Download           DirectionConfig `mapstructure:"download" yaml:"download"`
	Upload             DirectionConfig `mapstructure:"upload" yaml:"upload"`
	TargetBloatMs      float64         `mapstructure:"target_bloat_ms" yaml:"target_bloat_ms"`
	WarnBloatMs        float64         `mapstructure:"warn_bloat_ms" yaml:"warn_bloat_ms"`
	HardRedBloatMs     float64         `mapstructure:"hard_red_bloat_ms" yaml:"hard_red_bloat_ms"`
	AlphaBaseline      float64         `mapstructure:"alpha_baseline" yaml:"alpha_baseline"`
	AlphaLoad          float64         `mapstructure:"alpha_load" yaml:"alpha_load"`
	BaselineUpdateThresholdMs float64  `mapstructure:"baseline_update_threshold_ms" yaml:"baseline_update_threshold_ms"`
	CycleIntervalMs    int             `mapstructure:"cycle_interval_ms" yaml:"cycle_interval_ms"`
	RateLimitMaxChanges int            `mapstructure:"rate_limit_max_changes" yaml:"rate_limit_max_changes"`
	RateLimitWindowMs  int             `mapstructure:"rate_limit_window_ms" yaml:"rate_limit_window_ms"`
	FallbackPolicy     FallbackPolicy  `mapstructure:"fallback_policy" yaml:"fallback_policy"`
	MaxFallbackCycles  int             `mapstructure:"max_fallback_cycles" yaml:"max_fallback_cycles"`
	// GreenStreakRequired is N in spec §4.6's recovery-streak condition.
	GreenStreakRequired int `mapstructure:"green_streak_required" yaml:"green_streak_required"`
	DownloadQueueName   string `mapstructure:"download_queue_name" yaml:"download_queue_name"`
	UploadQueueName     string `mapstructure:"upload_queue_name" yaml:"upload_queue_name"`
	StateDir            string `mapstructure:"state_dir" yaml:"state_dir"`
	LockDir             string `mapstructure:"lock_dir" yaml:"lock_dir"`
}

// Validate enforces Invariant T and F and the identifier whitelist. It does
// not enforce Invariant E (a runtime property, not a config-time one).
func (c *AutorateConfig) Validate() error {
	if err := ValidateIdentifier(c.WANName); err != nil {
		return fmt.Errorf("wan_name: %w", err)
	}
	if err := ValidateIdentifier(c.DownloadQueueName); err != nil {
		return fmt.Errorf("download_queue_name: %w", err)
	}
	if err := ValidateIdentifier(c.UploadQueueName); err != nil {
		return fmt.Errorf("upload_queue_name: %w", err)
	}
	if len(c.Reflectors) < 1 {
		return fmt.Errorf("at least one reflector is required")
	}
	if !(0 < c.TargetBloatMs && c.TargetBloatMs < c.WarnBloatMs && c.WarnBloatMs < c.HardRedBloatMs) {
		return fmt.Errorf("threshold ordering violated: target=%v warn=%v hard_red=%v",
			c.TargetBloatMs, c.WarnBloatMs, c.HardRedBloatMs)
	}
	if !(c.AlphaBaseline > 0 && c.AlphaBaseline <= 1) {
		return fmt.Errorf("alpha_baseline must be in (0,1]")
	}
	if !(c.AlphaLoad > 0 && c.AlphaLoad <= 1) {
		return fmt.Errorf("alpha_load must be in (0,1]")
	}
	if c.AlphaBaseline >= c.AlphaLoad {
		return fmt.Errorf("alpha_baseline must be < alpha_load")
	}
	if err := c.Download.ValidateFloors(); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if err := c.Upload.ValidateFloors(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if c.CycleIntervalMs <= 0 {
		return fmt.Errorf("cycle_interval_ms must be > 0")
	}
	if c.RateLimitMaxChanges <= 0 || c.RateLimitWindowMs <= 0 {
		return fmt.Errorf("rate_limit_max_changes and rate_limit_window_ms must be > 0")
	}
	switch c.FallbackPolicy {
	case FallbackFreeze, FallbackUseLastRTT, FallbackGracefulDegradation:
	default:
		return fmt.Errorf("unknown fallback_policy %q", c.FallbackPolicy)
	}
	if c.FallbackPolicy == FallbackGracefulDegradation && c.MaxFallbackCycles <= 0 {
		return fmt.Errorf("max_fallback_cycles must be > 0 for graceful_degradation")
	}
	if c.GreenStreakRequired <= 0 {
		return fmt.Errorf("green_streak_required must be > 0")
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	return nil
}

// AssessorThresholds configures the congestion assessor of spec §4.8.
type AssessorThresholds struct {
	GreenRTTMs    float64 `mapstructure:"green_rtt_ms" yaml:"green_rtt_ms"`
	YellowRTTMs   float64 `mapstructure:"yellow_rtt_ms" yaml:"yellow_rtt_ms"`
	RedRTTMs      float64 `mapstructure:"red_rtt_ms" yaml:"red_rtt_ms"`
	MinDropsRed   float64 `mapstructure:"min_drops_red" yaml:"min_drops_red"`
	MinQueueYellow float64 `mapstructure:"min_queue_yellow" yaml:"min_queue_yellow"`
	MinQueueRed   float64 `mapstructure:"min_queue_red" yaml:"min_queue_red"`
}

// SteeringConfig is the immutable per-instance record consumed by
// internal/steering.
type SteeringConfig struct {
	PrimaryWAN            string              `mapstructure:"primary_wan" yaml:"primary_wan"`
	AlternateWAN          string              `mapstructure:"alternate_wan" yaml:"alternate_wan"`
	Router                RouterConfig        `mapstructure:"router" yaml:"router"`
	Observability         ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
	MangleRuleComment     string              `mapstructure:"mangle_rule_comment" yaml:"mangle_rule_comment"`
	PrimaryDownloadQueue  string              `mapstructure:"primary_download_queue" yaml:"primary_download_queue"`
	PrimaryUploadQueue    string              `mapstructure:"primary_upload_queue" yaml:"primary_upload_queue"`
	Thresholds            AssessorThresholds  `mapstructure:"thresholds" yaml:"thresholds"`
	RedSamplesRequired    int                 `mapstructure:"red_samples_required" yaml:"red_samples_required"`
	GreenSamplesRequired  int                 `mapstructure:"green_samples_required" yaml:"green_samples_required"`
	BaselineMinMs         float64             `mapstructure:"baseline_min_ms" yaml:"baseline_min_ms"`
	BaselineMaxMs         float64             `mapstructure:"baseline_max_ms" yaml:"baseline_max_ms"`
	AlphaRTTDelta         float64             `mapstructure:"alpha_rtt_delta" yaml:"alpha_rtt_delta"`
	AlphaQueue            float64             `mapstructure:"alpha_queue" yaml:"alpha_queue"`
	CycleIntervalMs       int                 `mapstructure:"cycle_interval_ms" yaml:"cycle_interval_ms"`
	CakeFailureWarnThreshold int              `mapstructure:"cake_failure_warn_threshold" yaml:"cake_failure_warn_threshold"`
	PrimaryStatePath      string              `mapstructure:"primary_state_path" yaml:"primary_state_path"`
	StateDir              string              `mapstructure:"state_dir" yaml:"state_dir"`
	LockDir               string              `mapstructure:"lock_dir" yaml:"lock_dir"`
	Reflectors            []string            `mapstructure:"reflectors" yaml:"reflectors"`
	MedianOfThree         bool                `mapstructure:"median_of_three" yaml:"median_of_three"`
}

// AbsoluteBaselineCeilingMs is the compile-time hard ceiling referenced by
// spec §4.4 / §9: even a relaxed configuration cannot accept a baseline
// beyond this. A compromised or buggy autorate persisting a ten-second
// baseline must not be able to disable steering permanently.
const AbsoluteBaselineCeilingMs = 500.0

// Validate enforces the identifier whitelist and hysteresis/threshold
// ordering for the steering config.
func (c *SteeringConfig) Validate() error {
	if err := ValidateIdentifier(c.PrimaryWAN); err != nil {
		return fmt.Errorf("primary_wan: %w", err)
	}
	if err := ValidateIdentifier(c.AlternateWAN); err != nil {
		return fmt.Errorf("alternate_wan: %w", err)
	}
	if err := ValidateIdentifier(c.MangleRuleComment); err != nil {
		return fmt.Errorf("mangle_rule_comment: %w", err)
	}
	if err := ValidateIdentifier(c.PrimaryDownloadQueue); err != nil {
		return fmt.Errorf("primary_download_queue: %w", err)
	}
	if err := ValidateIdentifier(c.PrimaryUploadQueue); err != nil {
		return fmt.Errorf("primary_upload_queue: %w", err)
	}
	if !(c.Thresholds.GreenRTTMs < c.Thresholds.YellowRTTMs && c.Thresholds.YellowRTTMs <= c.Thresholds.RedRTTMs) {
		return fmt.Errorf("assessor thresholds must satisfy green < yellow <= red")
	}
	if c.RedSamplesRequired <= 0 || c.GreenSamplesRequired <= 0 {
		return fmt.Errorf("red_samples_required and green_samples_required must be > 0")
	}
	if c.BaselineMinMs <= 0 || c.BaselineMaxMs <= c.BaselineMinMs {
		return fmt.Errorf("baseline bounds invalid: min=%v max=%v", c.BaselineMinMs, c.BaselineMaxMs)
	}
	if c.BaselineMaxMs > AbsoluteBaselineCeilingMs {
		return fmt.Errorf("baseline_max_ms %v exceeds absolute ceiling %v", c.BaselineMaxMs, AbsoluteBaselineCeilingMs)
	}
	if !(c.AlphaRTTDelta > 0 && c.AlphaRTTDelta <= 1) || !(c.AlphaQueue > 0 && c.AlphaQueue <= 1) {
		return fmt.Errorf("alpha_rtt_delta and alpha_queue must be in (0,1]")
	}
	if c.CycleIntervalMs <= 0 {
		return fmt.Errorf("cycle_interval_ms must be > 0")
	}
	if len(c.Reflectors) < 1 {
		return fmt.Errorf("at least one reflector is required")
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	return nil
}
