// ABOUTME: Entry point for the snapsync player
// ABOUTME: Loads configuration, finds a server and runs the player with an optional TUI
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/internal/config"
	"github.com/Resonate-Protocol/snapsync-go/internal/discovery"
	"github.com/Resonate-Protocol/snapsync-go/internal/ui"
	"github.com/Resonate-Protocol/snapsync-go/internal/version"
	"github.com/Resonate-Protocol/snapsync-go/pkg/player"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	// .env feeds SNAPSYNC_* overrides
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	useTUI := !cfg.NoTUI

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
		log.Printf("Starting %s %s: %s", version.Product, version.Version, cfg.Name)
	}

	var tuiProg *tea.Program
	var volumeCtrl *ui.VolumeControl

	if useTUI {
		volumeCtrl = ui.NewVolumeControl()
		tuiProg, err = ui.Run(volumeCtrl)
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				log.Errorf("TUI stopped: %v", err)
			}
		}()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	disc := discovery.NewManager(discovery.Config{
		ServiceName: cfg.Name,
		Port:        cfg.Port,
	})
	defer disc.Stop()
	if err := disc.Advertise(); err != nil {
		log.Warnf("mDNS advertisement failed: %v", err)
	}

	serverAddress := cfg.Server
	if serverAddress == "" {
		log.Printf("Starting server discovery...")
		disc.Browse()

		server, err := disc.WaitForServer(context.Background(), cfg.DiscoveryWait())
		if err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
		serverAddress = server.Addr()
		log.Printf("Discovered server %q at %s", server.Name, serverAddress)
	}

	pc := cfg.PlayerConfig()
	pc.ServerAddr = serverAddress
	pc.OnStateChange = func(state player.State) {
		connected := state.Connected
		muted := state.Muted
		updateTUI(ui.StatusMsg{
			Connected:  &connected,
			ServerName: serverAddress,
			State:      state.State,
			Codec:      state.Codec,
			SampleRate: state.SampleRate,
			Channels:   state.Channels,
			BitDepth:   state.BitDepth,
			Volume:     state.Volume,
			Muted:      &muted,
		})
	}
	pc.OnError = func(err error) {
		log.Errorf("Player error: %v", err)
	}

	p, err := player.New(pc)
	if err != nil {
		log.Fatalf("Failed to create player: %v", err)
	}

	if err := p.Connect(); err != nil {
		log.Fatalf("Connection failed: %v", err)
	}

	if volumeCtrl != nil {
		go handleVolumeControl(p, volumeCtrl)
	}
	if tuiProg != nil {
		go statsUpdateLoop(p, updateTUI)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var quit <-chan ui.QuitMsg
	if volumeCtrl != nil {
		quit = volumeCtrl.Quit
	}

	select {
	case <-quit:
		log.Printf("Received quit signal from TUI")
	case <-sigChan:
		log.Printf("Shutdown signal received")
	}

	if err := p.Close(); err != nil {
		log.Errorf("Error closing player: %v", err)
	}
	if tuiProg != nil {
		tuiProg.Quit()
	}

	log.Printf("Player stopped")
}

// handleVolumeControl applies volume changes made in the TUI
func handleVolumeControl(p *player.Player, volumeCtrl *ui.VolumeControl) {
	for vol := range volumeCtrl.Changes {
		log.Printf("Volume change: %d%%, muted=%v", vol.Volume, vol.Muted)
		p.SetVolume(vol.Volume)
		p.Mute(vol.Muted)
	}
}

// statsUpdateLoop periodically pushes playback statistics to the TUI
func statsUpdateLoop(p *player.Player, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// runtime stats are expensive; sample them less often
	runtimeTicker := time.NewTicker(2 * time.Second)
	defer runtimeTicker.Stop()

	var goroutines int
	var memAlloc, memSys uint64

	for {
		select {
		case <-runtimeTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			goroutines = runtime.NumGoroutine()
			memAlloc = m.Alloc
			memSys = m.Sys

		case <-ticker.C:
			stats := p.Stats()
			updateTUI(ui.StatusMsg{
				Stats:      &stats,
				Goroutines: goroutines,
				MemAlloc:   memAlloc,
				MemSys:     memSys,
			})
		}
	}
}
