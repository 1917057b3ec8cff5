package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SCRIBE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SCRIBE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.audio_dir", typ: kString, env: "SCRIBE_STORAGE_AUDIO_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.AudioDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.AudioDir },
	},
	{
		key: "storage.recordings_dir", typ: kString, env: "SCRIBE_STORAGE_RECORDINGS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.RecordingsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RecordingsDir },
	},
	{
		key: "recording.sample_rate", typ: kInt, env: "SCRIBE_RECORDING_SAMPLE_RATE",
		apply:   func(cfg *Config, v any) { cfg.Recording.SampleRate = v.(int) },
		extract: func(cfg Config) any { return cfg.Recording.SampleRate },
	},
	{
		key: "recording.channels", typ: kInt, env: "SCRIBE_RECORDING_CHANNELS",
		apply:   func(cfg *Config, v any) { cfg.Recording.Channels = v.(int) },
		extract: func(cfg Config) any { return cfg.Recording.Channels },
	},
	{
		key: "recording.window", typ: kString, env: "SCRIBE_RECORDING_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Recording.Window = v.(string) },
		extract: func(cfg Config) any { return cfg.Recording.Window },
	},
	{
		key: "recording.max_recordings", typ: kInt, env: "SCRIBE_RECORDING_MAX_RECORDINGS",
		apply:   func(cfg *Config, v any) { cfg.Recording.MaxRecordings = v.(int) },
		extract: func(cfg Config) any { return cfg.Recording.MaxRecordings },
	},
	{
		key: "recording.archive", typ: kBool, env: "SCRIBE_RECORDING_ARCHIVE",
		apply:   func(cfg *Config, v any) { cfg.Recording.Archive = v.(bool) },
		extract: func(cfg Config) any { return cfg.Recording.Archive },
	},
	{
		key: "recording.save_chunk_audio", typ: kBool, env: "SCRIBE_RECORDING_SAVE_CHUNK_AUDIO",
		apply:   func(cfg *Config, v any) { cfg.Recording.SaveChunkAudio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Recording.SaveChunkAudio },
	},
	{
		key: "recording.input_pipe", typ: kString, env: "SCRIBE_RECORDING_INPUT_PIPE",
		apply:   func(cfg *Config, v any) { cfg.Recording.InputPipe = v.(string) },
		extract: func(cfg Config) any { return cfg.Recording.InputPipe },
	},
	{
		key: "whisper.base_url", typ: kString, env: "SCRIBE_WHISPER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Whisper.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.BaseURL },
	},
	{
		key: "whisper.model", typ: kString, env: "SCRIBE_WHISPER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Whisper.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.Model },
	},
	{
		key: "whisper.beam_size", typ: kInt, env: "SCRIBE_WHISPER_BEAM_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Whisper.BeamSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Whisper.BeamSize },
	},
	{
		key: "llm.base_url", typ: kString, env: "SCRIBE_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "SCRIBE_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "log.level", typ: kString, env: "SCRIBE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
