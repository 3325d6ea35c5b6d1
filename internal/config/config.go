package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultConfigPath = "~/.config/camtrap/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the analysis pipeline.
type Config struct {
	Processing Processing   `json:"processing"`
	Logging    Logging      `json:"logging"`
	Paths      Paths        `json:"paths"`
	Ingest     IngestConfig `json:"ingest"`
	Detect     DetectConfig `json:"detect"`
	Track      TrackConfig  `json:"track"`
	Server     ServerConfig `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // enable file logging
	LogDir     string `json:"log_dir"`     // directory for log files
}

// Paths configures default data locations.
type Paths struct {
	DatabasePath string `json:"database_path"`
	SnapshotDir  string `json:"snapshot_dir"`
}

// IngestConfig controls video discovery and frame decoding.
type IngestConfig struct {
	VideoFormats      []string `json:"video_formats"`      // extensions without dot, e.g. "mkv"
	FilenameSeparator string   `json:"filename_separator"` // between date and time parts
	Clock24h          bool     `json:"clock_24h"`          // false = 12h clock in filenames
	SidecarPriority   bool     `json:"sidecar_priority"`   // sidecar metadata wins over ffprobe
	SkipFrames        int      `json:"skip_frames"`        // frames skipped between samples
	QueueSize         int      `json:"queue_size"`         // decoded frame buffer capacity
	MaxTimeGapSecs    int      `json:"max_time_gap_secs"`  // gap above which a sequence breaks
}

// DetectConfig tunes background subtraction and blob extraction.
type DetectConfig struct {
	LearningRate float64 `json:"learning_rate"` // background model update weight [0,1]
	Threshold    uint8   `json:"threshold"`     // |frame-background| foreground cutoff
	BlurRadius   int     `json:"blur_radius"`   // box blur radius, 0 disables
	Gamma        float64 `json:"gamma"`         // gamma correction, 1.0 disables
	ResizePct    int     `json:"resize_pct"`    // downscale percentage, 100 disables
	MinArea      int     `json:"min_area"`      // minimum blob area in pixels
}

// TrackConfig tunes the multi-object tracker. Distances and speeds are in
// pixel units because detections live in image coordinates.
type TrackConfig struct {
	MaxTracks             int     `json:"max_tracks"`
	MaxMisses             int     `json:"max_misses"`
	MaxMissesConfirmed    int     `json:"max_misses_confirmed"`
	HitsToConfirm         int     `json:"hits_to_confirm"`
	GatingDistanceSquared float64 `json:"gating_distance_squared"` // px²
	ProcessNoisePos       float64 `json:"process_noise_pos"`
	ProcessNoiseVel       float64 `json:"process_noise_vel"`
	MeasurementNoise      float64 `json:"measurement_noise"`
	OcclusionCovInflation float64 `json:"occlusion_cov_inflation"`
	MaxPositionJumpPx     float64 `json:"max_position_jump_px"`
	MaxReasonableSpeedPps float64 `json:"max_reasonable_speed_pps"` // px/s
	MaxTrailLength        int     `json:"max_trail_length"`
	GracePeriodSecs       int     `json:"grace_period_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("CAMTRAP_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "camtrap.db"),
			SnapshotDir:  "./snapshots",
		},
		Ingest: IngestConfig{
			VideoFormats:      []string{"mkv", "mp4", "avi"},
			FilenameSeparator: "_",
			Clock24h:          true,
			SidecarPriority:   true,
			SkipFrames:        9,
			QueueSize:         500,
			MaxTimeGapSecs:    300,
		},
		Detect: DetectConfig{
			LearningRate: 0.05,
			Threshold:    25,
			BlurRadius:   2,
			Gamma:        1.0,
			ResizePct:    100,
			MinArea:      50,
		},
		Track: TrackConfig{
			MaxTracks:             64,
			MaxMisses:             5,
			MaxMissesConfirmed:    15,
			HitsToConfirm:         3,
			GatingDistanceSquared: 9.21, // chi-squared 99% for 2 DOF
			ProcessNoisePos:       4.0,
			ProcessNoiseVel:       16.0,
			MeasurementNoise:      4.0,
			OcclusionCovInflation: 2.0,
			MaxPositionJumpPx:     200,
			MaxReasonableSpeedPps: 800,
			MaxTrailLength:        512,
			GracePeriodSecs:       5,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// MaxTimeGap returns the sequence-break gap as a duration.
func (c IngestConfig) MaxTimeGap() time.Duration {
	return time.Duration(c.MaxTimeGapSecs) * time.Second
}

// GracePeriod returns how long deleted tracks are retained for readers.
func (c TrackConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSecs) * time.Second
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
