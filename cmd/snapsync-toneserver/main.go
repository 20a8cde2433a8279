// ABOUTME: Entry point for the reference tone server
// ABOUTME: Parses CLI flags and serves a test tone to snapsync players
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/snapsync-go/internal/config"
	"github.com/Resonate-Protocol/snapsync-go/internal/toneserver"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var (
	port      = pflag.Int("port", 1704, "WebSocket server port")
	name      = pflag.String("name", "", "Server friendly name (default: hostname-snapsync-server)")
	logFile   = pflag.String("log_file", "snapsync-toneserver.log", "Log file path")
	level     = pflag.String("level", "info", "Log level")
	noMDNS    = pflag.Bool("no_mdns", false, "Disable mDNS advertisement")
	codec     = pflag.String("codec", "pcm", "Stream codec: pcm or opus")
	rate      = pflag.Int("sample_rate", 48000, "Sample rate")
	bitDepth  = pflag.Int("bit_depth", 16, "PCM bit depth: 16 or 24")
	bufferMs  = pflag.Int("buffer_ms", 1000, "Playout buffer announced to players")
	latency   = pflag.Int("latency", 0, "Extra per-client latency in milliseconds")
	frequency = pflag.Float64("frequency", 440, "Tone frequency in Hz")
)

func main() {
	pflag.Parse()
	config.InitLog(*level)

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-snapsync-server", hostname)
	}

	log.Printf("Starting tone server: %s on port %d (%s, %.0fHz)", serverName, *port, *codec, *frequency)

	srv, err := toneserver.New(toneserver.Config{
		Port:       *port,
		Name:       serverName,
		Codec:      *codec,
		SampleRate: *rate,
		Channels:   2,
		BitDepth:   *bitDepth,
		BufferMs:   *bufferMs,
		Latency:    *latency,
		Frequency:  *frequency,
		EnableMDNS: !*noMDNS,
	})
	if err != nil {
		log.Fatalf("Invalid server configuration: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
