package voicecall

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	SecretEnvVarName = "VOICECALL_SECRET"
)

type clientConfig struct {
	endpoint    string
	assistantID string
	secret      string

	sampleRate int // wire rate for outbound PCM16
	blockSize  int // samples per outbound block

	detector  DetectorConfig
	scheduler SchedulerConfig
	toolcall  ToolCallConfig
	status    StatusConfig

	connectTimeout    time.Duration
	inactivityTimeout time.Duration

	capture    CaptureSource
	sink       OutputSink
	httpClient *http.Client
	logger     *slog.Logger

	loadErr error
}

func (c *clientConfig) validate() error {
	if c.loadErr != nil {
		return c.loadErr
	}
	if c.endpoint == "" {
		return fmt.Errorf("missing endpoint")
	}
	if c.assistantID == "" {
		return fmt.Errorf("missing assistant id")
	}
	if c.capture == nil {
		return fmt.Errorf("missing capture source")
	}
	if c.sink == nil {
		return fmt.Errorf("missing output sink")
	}
	return nil
}

type ClientOption func(*clientConfig)

func WithEndpoint(url string) ClientOption {
	return func(o *clientConfig) {
		o.endpoint = url
	}
}

func WithAssistant(id string) ClientOption {
	return func(o *clientConfig) {
		o.assistantID = id
	}
}

func WithSecret(secret string) ClientOption {
	return func(o *clientConfig) {
		o.secret = secret
	}
}

// WithEnvSecret reads the bootstrap secret from the first non-empty variable,
// defaulting to VOICECALL_SECRET.
func WithEnvSecret(vars ...string) ClientOption {
	return func(o *clientConfig) {
		if len(vars) == 0 {
			vars = []string{SecretEnvVarName}
		}
		for _, envVarName := range vars {
			if s := os.Getenv(envVarName); s != "" {
				o.secret = s
				return
			}
		}
	}
}

func WithCapture(src CaptureSource) ClientOption {
	return func(o *clientConfig) {
		o.capture = src
	}
}

func WithSink(sink OutputSink) ClientOption {
	return func(o *clientConfig) {
		o.sink = sink
	}
}

// WithBlockSize sets the outbound block size in samples.
func WithBlockSize(samples int) ClientOption {
	return func(o *clientConfig) {
		o.blockSize = samples
	}
}

func WithSampleRate(sr int) ClientOption {
	return func(o *clientConfig) {
		o.sampleRate = sr
		o.scheduler.WireRate = sr
	}
}

func WithSpeechThreshold(rms float64) ClientOption {
	return func(o *clientConfig) {
		o.detector.SpeechThreshold = rms
	}
}

func WithDetectorConfig(cfg DetectorConfig) ClientOption {
	return func(o *clientConfig) {
		o.detector = cfg
	}
}

func WithSchedulerConfig(cfg SchedulerConfig) ClientOption {
	return func(o *clientConfig) {
		o.scheduler = cfg
	}
}

func WithToolCallConfig(cfg ToolCallConfig) ClientOption {
	return func(o *clientConfig) {
		o.toolcall = cfg
	}
}

func WithStatusConfig(cfg StatusConfig) ClientOption {
	return func(o *clientConfig) {
		o.status = cfg
	}
}

func WithConnectTimeout(d time.Duration) ClientOption {
	return func(o *clientConfig) {
		o.connectTimeout = d
	}
}

// WithInactivityTimeout enables auto-disconnect after d without any speech
// activity in either direction. Zero disables it.
func WithInactivityTimeout(d time.Duration) ClientOption {
	return func(o *clientConfig) {
		o.inactivityTimeout = d
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientConfig) {
		o.httpClient = hc
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientConfig) {
		o.logger = logger
	}
}

func WithDefaultLogger() ClientOption {
	return WithLogger(slog.Default())
}

func WithOptions(opts ...ClientOption) ClientOption {
	return func(o *clientConfig) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

func withDefaults() ClientOption {
	return WithOptions(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSampleRate(16_000),
		WithBlockSize(512),
		WithDetectorConfig(defaultDetectorConfig()),
		WithSchedulerConfig(defaultSchedulerConfig()),
		WithToolCallConfig(defaultToolCallConfig()),
		WithStatusConfig(defaultStatusConfig()),
		WithConnectTimeout(10*time.Second),
		WithHTTPClient(http.DefaultClient),
		WithEnvSecret(SecretEnvVarName),
	)
}
