package main

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/lanbridge/internal/supervisor"
	"github.com/1ureka/lanbridge/internal/util"
)

const (
	menuConnect    = "Connect    - Start a bridge to a peer"
	menuDisconnect = "Disconnect - Stop the current bridge"
	menuLog        = "Show log   - Print the bridge log"
	menuExit       = "Exit"
)

// runInteractive drives a supervisor from a pterm menu until Exit or Ctrl+C.
func runInteractive(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sup := supervisor.New(supervisor.Settings{
		BindAddr:  cfg.Bind,
		VirtualIP: cfg.VirtualIP,
		Options:   sessionOptions(cfg),
	})
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()
	defer func() {
		cancel()
		<-supDone
	}()

	if ip, err := util.LocalIP(); err == nil {
		pterm.Info.Printfln("My IP: %s (bind %s, virtual %s)", ip, cfg.Bind, cfg.VirtualIP)
	} else {
		util.LogWarning("%v", err)
	}
	pterm.Println()

	startStats(ctx)

	for ctx.Err() == nil {
		state := "disconnected"
		if sup.ObserveConnected() {
			state = "connected"
		} else if sup.Active() {
			state = "connecting"
		}

		choice, err := pterm.DefaultInteractiveSelect.
			WithOptions([]string{menuConnect, menuDisconnect, menuLog, menuExit}).
			WithDefaultText("Lanbridge (" + state + ")").
			Show()
		if err != nil {
			return err
		}
		pterm.Println()

		switch choice {
		case menuConnect:
			host, port := askPeer()
			if err := sup.Connect(ctx, host, port); err != nil {
				util.LogWarning("connect failed: %v", err)
			}
		case menuDisconnect:
			if err := sup.Disconnect(ctx); errors.Is(err, supervisor.ErrNotConnected) {
				util.LogWarning("not connected")
			}
		case menuLog:
			printLog(sup.ObserveLog())
		case menuExit:
			return nil
		}
	}
	return nil
}

// askPeer prompts for the peer address; an empty port selects the default.
func askPeer() (string, int) {
	def := cfg.Peer
	host, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Peer IP").
		WithDefaultValue(def).
		Show()

	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Peer port (empty for 9000)").
		Show()
	pterm.Println()

	port := util.ParsePort(raw)
	if raw = strings.TrimSpace(raw); raw != "" && raw != strconv.Itoa(port) {
		util.LogWarning("invalid port %q, using %d", raw, port)
	}
	return strings.TrimSpace(host), port
}

func printLog(lines []string) {
	if len(lines) == 0 {
		pterm.Println("(log is empty)")
		pterm.Println()
		return
	}
	for _, line := range lines {
		pterm.Println("> " + line)
	}
	pterm.Println()
}
