package voicecall

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the on-disk configuration, all values static. Anything left
// zero falls back to the built-in defaults.
type FileConfig struct {
	Endpoint    string `toml:"endpoint"`
	AssistantID string `toml:"assistant_id"`
	Secret      string `toml:"secret"`

	Audio AudioFileConfig `toml:"audio"`
	VAD   VADFileConfig   `toml:"vad"`
	Call  CallFileConfig  `toml:"call"`
}

type AudioFileConfig struct {
	SampleRate int `toml:"sample_rate"`
	BlockSize  int `toml:"block_size"`
}

type VADFileConfig struct {
	Threshold    float64 `toml:"threshold"`
	MinSpeechMs  int     `toml:"min_speech_ms"`
	DecayMs      int     `toml:"decay_ms"`
	SweepEveryMs int     `toml:"sweep_every_ms"`
}

type CallFileConfig struct {
	ConnectTimeoutMs    int `toml:"connect_timeout_ms"`
	AckTimeoutMs        int `toml:"ack_timeout_ms"`
	RetryDelayMs        int `toml:"retry_delay_ms"`
	MaxRetries          int `toml:"max_retries"`
	InactivityTimeoutMs int `toml:"inactivity_timeout_ms"`
}

// LoadConfig reads a TOML config file. The shared secret may also come from
// the environment instead of disk.
func LoadConfig(path string) (*FileConfig, error) {
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.Secret == "" {
		cfg.Secret = os.Getenv(SecretEnvVarName)
	}
	return &cfg, nil
}

// Options converts the file values into client options, skipping zero
// values so defaults survive.
func (c *FileConfig) Options() []ClientOption {
	var opts []ClientOption
	if c.Endpoint != "" {
		opts = append(opts, WithEndpoint(c.Endpoint))
	}
	if c.AssistantID != "" {
		opts = append(opts, WithAssistant(c.AssistantID))
	}
	if c.Secret != "" {
		opts = append(opts, WithSecret(c.Secret))
	}
	if c.Audio.SampleRate > 0 {
		opts = append(opts, WithSampleRate(c.Audio.SampleRate))
	}
	if c.Audio.BlockSize > 0 {
		opts = append(opts, WithBlockSize(c.Audio.BlockSize))
	}
	opts = append(opts, func(o *clientConfig) {
		if c.VAD.Threshold > 0 {
			o.detector.SpeechThreshold = c.VAD.Threshold
		}
		if c.VAD.MinSpeechMs > 0 {
			o.detector.MinSpeechDuration = time.Duration(c.VAD.MinSpeechMs) * time.Millisecond
		}
		if c.VAD.DecayMs > 0 {
			o.detector.SpeakingDecay = time.Duration(c.VAD.DecayMs) * time.Millisecond
		}
		if c.VAD.SweepEveryMs > 0 {
			o.detector.SweepInterval = time.Duration(c.VAD.SweepEveryMs) * time.Millisecond
		}
		if c.Call.ConnectTimeoutMs > 0 {
			o.connectTimeout = time.Duration(c.Call.ConnectTimeoutMs) * time.Millisecond
		}
		if c.Call.AckTimeoutMs > 0 {
			o.toolcall.AckTimeout = time.Duration(c.Call.AckTimeoutMs) * time.Millisecond
		}
		if c.Call.RetryDelayMs > 0 {
			o.toolcall.RetryDelay = time.Duration(c.Call.RetryDelayMs) * time.Millisecond
		}
		if c.Call.MaxRetries > 0 {
			o.toolcall.MaxRetries = c.Call.MaxRetries
		}
		if c.Call.InactivityTimeoutMs > 0 {
			o.inactivityTimeout = time.Duration(c.Call.InactivityTimeoutMs) * time.Millisecond
		}
	})
	return opts
}

// WithConfigFile loads path and applies it on top of whatever options ran
// before it.
func WithConfigFile(path string) ClientOption {
	return func(o *clientConfig) {
		cfg, err := LoadConfig(path)
		if err != nil {
			o.loadErr = err
			return
		}
		for _, opt := range cfg.Options() {
			opt(o)
		}
	}
}
