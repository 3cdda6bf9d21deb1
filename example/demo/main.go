package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkKremer/microphone/v2"

	voicecall "github.com/codewandler/voicecall-go"
	"github.com/codewandler/voicecall-go/tool"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		endpoint  = "http://localhost:8080/call/web"
		assistant = ""
		rate      = 48_000
		debug     = false
	)

	flag.StringVar(&endpoint, "endpoint", endpoint, "call bootstrap endpoint")
	flag.StringVar(&assistant, "assistant", assistant, "assistant id")
	flag.IntVar(&rate, "sample-rate", rate, "mic and speaker sample rate")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelError)
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// audio
	must(microphone.Init())
	defer microphone.Terminate()

	mic, err := newMicSource(rate)
	must(err)
	spk, err := newSpeakerSink(rate)
	must(err)

	client := voicecall.New(
		voicecall.WithDefaultLogger(),
		voicecall.WithEndpoint(endpoint),
		voicecall.WithAssistant(assistant),
		voicecall.WithEnvSecret(),
		voicecall.WithCapture(mic),
		voicecall.WithSink(spk),
	)

	client.OnStatus(func(s voicecall.Status) {
		println("status>", string(s))
	})
	client.OnTranscript(func(role, text string, final bool) {
		if final {
			println(role+">", text)
		}
	})
	client.OnToolCall(func(inst tool.Instruction) {
		println("tool>", inst.Name, inst.ID)
		switch inst.Name {
		case "get_time":
			must(client.Submit(time.Now().Format(time.RFC3339)))
		case "end_call":
			client.Stop()
		default:
			must(client.Submit(map[string]any{"status": "shown"}))
		}
	})
	client.OnToolEvent(func(e any) {
		switch x := e.(type) {
		case tool.RetryScheduled:
			slog.Warn("resending tool result", slog.String("call", x.CallID), slog.Int("attempt", x.Attempt))
		case tool.Failed:
			slog.Error("tool result abandoned", slog.String("call", x.CallID))
		}
	})

	must(client.Start(ctx))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		client.Stop()
	case <-ctx.Done():
	}
}
