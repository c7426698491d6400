package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultAutorateConfig mirrors the teacher's DefaultConfig, generalized to
// the spec's 4-state/dual-direction model. It is a reasonable starting
// point for a single home-WAN instance and is always overridden by the
// loaded YAML file.
func DefaultAutorateConfig(wanName string) *AutorateConfig {
	return &AutorateConfig{
		WANName:       wanName,
		Reflectors:    []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"},
		MedianOfThree: true,
		Download: DirectionConfig{
			FloorRed: 50, FloorSoftRed: 150, FloorYellow: 300, FloorGreen: 550, Ceiling: 940,
			StepUp: 10, FactorDown: 0.85, FourState: true,
		},
		Upload: DirectionConfig{
			FloorRed: 20, FloorSoftRed: 50, FloorYellow: 50, FloorGreen: 100, Ceiling: 200,
			StepUp: 5, FactorDown: 0.85, FourState: false,
		},
		TargetBloatMs:             15,
		WarnBloatMs:               45,
		HardRedBloatMs:            100,
		AlphaBaseline:             0.02,
		AlphaLoad:                 0.2,
		BaselineUpdateThresholdMs: 3,
		CycleIntervalMs:           250,
		RateLimitMaxChanges:       10,
		RateLimitWindowMs:         60000,
		FallbackPolicy:            FallbackGracefulDegradation,
		MaxFallbackCycles:         4,
		GreenStreakRequired:       5,
		DownloadQueueName:         wanName + "-download",
		UploadQueueName:           wanName + "-upload",
		StateDir:                  "/var/lib/cake-autorate-ctl",
		LockDir:                   "/var/run/cake-autorate-ctl",
		Router: RouterConfig{
			Transport:     "rest",
			RESTBaseURL:   "https://192.168.1.1",
			RESTUsername:  "autorate",
			RESTTimeoutMs: 2000,
		},
		Observability: ObservabilityConfig{
			StatusAddr:  ":9100",
			MetricsAddr: ":9101",
			DebugAddr:   ":9102",
			LogLevel:    "info",
			HistorySize: 120,
		},
	}
}

// DefaultSteeringConfig mirrors the spirit of the teacher's DefaultConfig
// for the steering side of the control plane.
func DefaultSteeringConfig() *SteeringConfig {
	return &SteeringConfig{
		MangleRuleComment:    "cake-autorate-steer",
		PrimaryDownloadQueue: "wan1-download",
		PrimaryUploadQueue:   "wan1-upload",
		Thresholds: AssessorThresholds{
			GreenRTTMs: 20, YellowRTTMs: 45, RedRTTMs: 80,
			MinDropsRed: 5, MinQueueYellow: 20, MinQueueRed: 50,
		},
		RedSamplesRequired:       2,
		GreenSamplesRequired:     15,
		BaselineMinMs:            10,
		BaselineMaxMs:            60,
		AlphaRTTDelta:            0.3,
		AlphaQueue:               0.3,
		CycleIntervalMs:          250,
		CakeFailureWarnThreshold: 10,
		Reflectors:               []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"},
		MedianOfThree:            true,
		StateDir:                 "/var/lib/cake-autorate-ctl",
		LockDir:                  "/var/run/cake-autorate-ctl",
		Router: RouterConfig{
			Transport:     "rest",
			RESTBaseURL:   "https://192.168.1.1",
			RESTUsername:  "steer",
			RESTTimeoutMs: 2000,
		},
		Observability: ObservabilityConfig{
			StatusAddr:  ":9200",
			MetricsAddr: ":9201",
			DebugAddr:   ":9202",
			LogLevel:    "info",
			HistorySize: 120,
		},
	}
}

// LoadAutorateConfig reads a YAML config file via viper (falling back to
// environment variables under the CAKE_AUTORATE_ prefix, as the teacher's
// loadConfig does for CAKE_AUTORTT_) and validates the result.
func LoadAutorateConfig(path, wanName string) (*AutorateConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CAKE_AUTORATE")
	v.AutomaticEnv()

	cfg := DefaultAutorateConfig(wanName)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if !cfg.Download.FourState {
		cfg.Download.FloorSoftRed = cfg.Download.FloorYellow
	}
	if !cfg.Upload.FourState {
		cfg.Upload.FloorSoftRed = cfg.Upload.FloorYellow
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid autorate config: %w", err)
	}
	return cfg, nil
}

// LoadSteeringConfig is the steering-side analogue of LoadAutorateConfig.
func LoadSteeringConfig(path string) (*SteeringConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CAKE_STEER")
	v.AutomaticEnv()

	cfg := DefaultSteeringConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid steering config: %w", err)
	}
	return cfg, nil
}
