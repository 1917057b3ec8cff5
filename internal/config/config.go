package config

import "path/filepath"

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Recording RecordingConfig
	Whisper   WhisperConfig
	LLM       LLMConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir       string
	AudioDir      string // per-chunk audio; derived from DataDir unless set
	RecordingsDir string // complete recordings; derived from DataDir unless set
}

type RecordingConfig struct {
	SampleRate     int
	Channels       int
	Window         string // chunk window as a duration string, e.g. "30s"
	MaxRecordings  int
	Archive        bool
	SaveChunkAudio bool
	InputPipe      string // raw PCM source; empty disables recording endpoints
}

type WhisperConfig struct {
	BaseURL  string
	Model    string
	BeamSize int
}

type LLMConfig struct {
	BaseURL string
	Model   string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Recording: RecordingConfig{
			SampleRate:    16000,
			Channels:      1,
			Window:        "30s",
			MaxRecordings: 10,
			Archive:       true,
		},
		Whisper: WhisperConfig{
			BaseURL:  "http://localhost:8000",
			Model:    "small",
			BeamSize: 5,
		},
		LLM: LLMConfig{
			BaseURL: "http://localhost:11434",
			Model:   "mistral-nemo",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/scribe/config.json, then applies SCRIBE_* environment
// overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The audio directories follow the data dir unless set explicitly.
	if cfg.Storage.AudioDir == "" {
		cfg.Storage.AudioDir = filepath.Join(cfg.Storage.DataDir, "audio")
	}
	if cfg.Storage.RecordingsDir == "" {
		cfg.Storage.RecordingsDir = filepath.Join(cfg.Storage.DataDir, "recordings")
	}

	return cfg, nil
}
