package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no --config path is given and the file exists.
const DefaultFile = "dfprep.yaml"

type Paths struct {
	VideoRoot string `yaml:"video_root" env:"VIDEO_ROOT"`
	FrameRoot string `yaml:"frame_root" env:"FRAME_ROOT"`
	SplitRoot string `yaml:"split_root" env:"SPLIT_ROOT"`
}

type Extract struct {
	Stride      int      `yaml:"stride" env:"STRIDE"`
	Padding     int      `yaml:"padding" env:"PADDING"`
	FaceSize    int      `yaml:"face_size" env:"FACE_SIZE"`
	JPEGQuality int      `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	Policy      string   `yaml:"policy" env:"POLICY"`
	Extensions  []string `yaml:"extensions" env:"EXTENSIONS" envSeparator:","`
	FFmpegPath  string   `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
}

type Detector struct {
	Python        string  `yaml:"python" env:"PYTHON"`
	Script        string  `yaml:"script" env:"SCRIPT"`
	MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
}

type Degrade struct {
	Qualities    []int `yaml:"qualities" env:"QUALITIES" envSeparator:","`
	MeasureDrift bool  `yaml:"measure_drift" env:"MEASURE_DRIFT"`
}

type Split struct {
	TrainFraction float64  `yaml:"train_fraction" env:"TRAIN_FRACTION"`
	Seed          *int64   `yaml:"seed" env:"SEED"`
	Scenarios     []string `yaml:"scenarios" env:"SCENARIOS" envSeparator:","`
	Labels        []string `yaml:"labels" env:"LABELS" envSeparator:","`
}

// Model registers one classifier together with its matching preprocessor.
type Model struct {
	Name       string `yaml:"name"`
	Endpoint   string `yaml:"endpoint"`
	Weights    string `yaml:"weights"`
	InputSize  int    `yaml:"input_size"`
	Preprocess string `yaml:"preprocess"`
	BGR        bool   `yaml:"bgr"`
}

type Score struct {
	Endpoint     string  `yaml:"endpoint" env:"ENDPOINT"`
	ReadyTimeout string  `yaml:"ready_timeout" env:"READY_TIMEOUT"`
	Models       []Model `yaml:"models"`
}

type Ledger struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
	URL    string `yaml:"url" env:"URL"`
}

type Storage struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
}

type Log struct {
	Level string `yaml:"level" env:"LEVEL"`
	File  string `yaml:"file" env:"FILE"`
}

// Config is the full configuration surface. Every component receives the
// section it needs; nothing reads globals.
type Config struct {
	Paths       Paths    `yaml:"paths" envPrefix:"DFPREP_"`
	Extract     Extract  `yaml:"extract" envPrefix:"DFPREP_EXTRACT_"`
	Detector    Detector `yaml:"detector" envPrefix:"DFPREP_DETECTOR_"`
	Degrade     Degrade  `yaml:"degrade" envPrefix:"DFPREP_DEGRADE_"`
	Split       Split    `yaml:"split" envPrefix:"DFPREP_SPLIT_"`
	Score       Score    `yaml:"score" envPrefix:"DFPREP_SCORE_"`
	Ledger      Ledger   `yaml:"ledger" envPrefix:"DFPREP_LEDGER_"`
	Storage     Storage  `yaml:"storage" envPrefix:"DFPREP_STORAGE_"`
	Log         Log      `yaml:"log" envPrefix:"DFPREP_LOG_"`
	MetricsAddr string   `yaml:"metrics_addr" env:"DFPREP_METRICS_ADDR"`
}

// Default returns the stock configuration: stride 15, padding 20, 256px faces, q60/q30/q10.
func Default() *Config {
	return &Config{
		Paths: Paths{
			VideoRoot: "data",
			FrameRoot: "frames",
			SplitRoot: "frames_split",
		},
		Extract: Extract{
			Stride:      15,
			Padding:     20,
			FaceSize:    256,
			JPEGQuality: 95,
			Policy:      "largest",
			Extensions:  []string{".mp4", ".avi", ".mov"},
			FFmpegPath:  "ffmpeg",
		},
		Detector: Detector{
			Python: "python3",
			Script: "python/detector.py",
		},
		Degrade: Degrade{
			Qualities: []int{60, 30, 10},
		},
		Split: Split{
			TrainFraction: 0.65,
			Scenarios:     []string{"hq", "q60", "q30", "q10"},
			Labels:        []string{"videos_real", "videos_fake"},
		},
		Score: Score{
			Endpoint:     "http://localhost:8001",
			ReadyTimeout: "60s",
			Models: []Model{
				{Name: "MesoNet", Weights: "models/Meso4_DF.h5", InputSize: 256, Preprocess: "unit", BGR: true},
				{Name: "Xception", Weights: "models/xception_model.keras", InputSize: 299, Preprocess: "symmetric", BGR: true},
				{Name: "MobileNetV2", Weights: "models/mobilenet_model.keras", InputSize: 224, Preprocess: "symmetric", BGR: true},
				{Name: "EfficientNetB0", Weights: "models/efficientnet_model.keras", InputSize: 224, Preprocess: "identity", BGR: true},
			},
		},
		Ledger: Ledger{
			Driver: "sqlite",
			Path:   "frames/.dfprep-ledger.db",
		},
		Storage: Storage{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "dfprep",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (if any), then
// the environment (a local .env file is loaded first when present).
// An explicit path that does not exist is an error; the default file is optional.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	file := path
	if file == "" {
		file = DefaultFile
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == "":
	default:
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

var validPolicies = map[string]bool{"first": true, "largest": true, "confidence": true}

var validPreprocessors = map[string]bool{"unit": true, "symmetric": true, "identity": true, "imagenet": true}

// Validate rejects configurations no stage can run with.
func (c *Config) Validate() error {
	if c.Extract.Stride < 1 {
		return fmt.Errorf("stride must be >= 1, got %d", c.Extract.Stride)
	}
	if c.Extract.Padding < 0 {
		return fmt.Errorf("padding must be >= 0, got %d", c.Extract.Padding)
	}
	if c.Extract.FaceSize < 1 {
		return fmt.Errorf("face size must be >= 1, got %d", c.Extract.FaceSize)
	}
	if c.Extract.JPEGQuality < 1 || c.Extract.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.Extract.JPEGQuality)
	}
	if !validPolicies[c.Extract.Policy] {
		return fmt.Errorf("invalid face policy '%s'. Must be one of: first, largest, confidence", c.Extract.Policy)
	}
	if len(c.Degrade.Qualities) == 0 {
		return fmt.Errorf("quality ladder is empty")
	}
	for _, q := range c.Degrade.Qualities {
		if q < 1 || q > 100 {
			return fmt.Errorf("quality level must be between 1 and 100, got %d", q)
		}
	}
	if c.Split.TrainFraction <= 0 || c.Split.TrainFraction >= 1 {
		return fmt.Errorf("train fraction must be between 0.0 and 1.0 (exclusive), got %f", c.Split.TrainFraction)
	}
	if len(c.Split.Scenarios) == 0 {
		return fmt.Errorf("scenario list is empty")
	}
	if len(c.Split.Labels) == 0 {
		return fmt.Errorf("label list is empty")
	}
	for _, m := range c.Score.Models {
		if m.Name == "" {
			return fmt.Errorf("model registration without a name")
		}
		if m.InputSize < 1 {
			return fmt.Errorf("model %s: input size must be >= 1, got %d", m.Name, m.InputSize)
		}
		if !validPreprocessors[m.Preprocess] {
			return fmt.Errorf("model %s: unknown preprocessor '%s'", m.Name, m.Preprocess)
		}
	}
	return nil
}

// Model looks up a registration by name.
func (c *Config) Model(name string) (Model, bool) {
	for _, m := range c.Score.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// ScenarioNames returns "hq" followed by one "q<level>" per quality level.
func (c *Config) ScenarioNames() []string {
	names := []string{"hq"}
	for _, q := range c.Degrade.Qualities {
		names = append(names, fmt.Sprintf("q%d", q))
	}
	return names
}
