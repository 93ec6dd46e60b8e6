package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/bosley/voxchat/chat"
	voxcli "github.com/bosley/voxchat/client"
	"github.com/bosley/voxchat/config"
	"github.com/bosley/voxchat/inbox"
	voxserv "github.com/bosley/voxchat/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default ~/.voxchat/config.toml)")
	baseURL := flag.String("base-url", "", "Assistant backend base URL")
	deviceID := flag.Int("device", 0, "Audio input device ID to use")
	listDevices := flag.Bool("list-devices", false, "List available audio input devices")
	playFile := flag.String("play", "", "Play audio file")
	serveAddr := flag.String("serve", "", "Serve the HTTP/WebSocket API on this address (host:port)")
	certFile := flag.String("cert", "", "Path to server certificate file")
	keyFile := flag.String("key", "", "Path to server key file")
	inboxDir := flag.String("inbox", "", "Submit WAV files dropped into this directory")
	noREPL := flag.Bool("no-repl", false, "Do not start the interactive prompt")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if *playFile != "" {
		if err := voxcli.PlayAudioFile(*playFile); err != nil {
			slog.Error("Failed to play audio file", "error", err)
			os.Exit(1)
		}
		return
	}

	if *listDevices {
		devices, err := voxcli.ListAudioDevices()
		if err != nil {
			slog.Error("Failed to list audio devices", "error", err)
			os.Exit(1)
		}

		fmt.Println("Available audio input devices:")
		for _, device := range devices {
			fmt.Printf("[%d] %s\n", device.Index, device.Name)
			fmt.Printf("    Max Input Channels: %d\n", device.MaxInputChannels)
			fmt.Printf("    Default Sample Rate: %f\n", device.DefaultSampleRate)
			fmt.Println()
		}
		return
	}

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			slog.Warn("No default config path", "error", err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Flags win over the file and the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.Backend.BaseURL = *baseURL
		case "device":
			cfg.Audio.Device = *deviceID
		case "serve":
			cfg.Server.Addr = *serveAddr
		case "cert":
			cfg.Server.CertFile = *certFile
		case "key":
			cfg.Server.KeyFile = *keyFile
		case "inbox":
			cfg.Inbox.Dir = *inboxDir
		}
	})
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *noREPL && cfg.Server.Addr == "" && cfg.Inbox.Dir == "" {
		slog.Error("Nothing to run: -no-repl needs -serve or -inbox")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	ctrl := chat.New(chat.Config{
		BaseURL:   cfg.Backend.BaseURL,
		TextPath:  cfg.Backend.TextPath,
		VoicePath: cfg.Backend.VoicePath,
		Timeout:   cfg.Backend.Timeout.Duration,
	}, voxcli.NewCapturer(voxcli.CaptureOptions{
		DeviceID:     cfg.Audio.Device,
		SampleRate:   cfg.Audio.SampleRate,
		SilenceStop:  cfg.Audio.SilenceStop.Duration,
		VADThreshold: cfg.Audio.VADThreshold,
	}))

	slog.Debug("Assistant backend", "baseURL", cfg.Backend.BaseURL)

	var wg sync.WaitGroup

	if cfg.Server.Addr != "" {
		srv := voxserv.New(ctrl, voxserv.Config{
			Addr:     cfg.Server.Addr,
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				slog.Error("HTTP server failed", "error", err)
				cancel()
			}
		}()
	}

	if cfg.Inbox.Dir != "" {
		in, err := inbox.New(inbox.Config{Dir: cfg.Inbox.Dir}, ctrl)
		if err != nil {
			slog.Error("Failed to start inbox", "error", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := in.Run(ctx); err != nil {
				slog.Error("Inbox failed", "error", err)
			}
		}()
	}

	if *noREPL {
		<-ctx.Done()
	} else {
		repl := voxcli.NewREPL(ctrl, voxcli.REPLOptions{
			HistoryFile: historyPath(path),
			Markdown:    term.IsTerminal(int(os.Stdout.Fd())),
		})

		// The prompt blocks on stdin, so a signal must not wait for it.
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := repl.Run(ctx); err != nil {
				slog.Error("Prompt failed", "error", err)
			}
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
		cancel()
	}

	wg.Wait()
	slog.Debug("Program exiting")
}

func historyPath(configPath string) string {
	if configPath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(configPath), "history")
}
