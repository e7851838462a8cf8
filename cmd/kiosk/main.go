// Command kiosk is the front-desk agent: it reads a keyboard-wedge RFID or
// QR reader and records check-ins against the attendance backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"frontdesk/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var commands = map[string]bool{
	"run": true, "login": true, "logout": true, "whoami": true, "scanner": true, "users": true,
	"register-card": true, "today": true, "qr": true, "instances": true, "purge": true,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	cfg, err := config.LoadKiosk()
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration:\n%v\n", err)
		return 2
	}
	slog.SetDefault(config.NewLogger(stderr, cfg.LogLevel))

	cmd := "run"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	}
	if !commands[cmd] {
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		usage(stderr)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openAgent(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer a.Close()

	switch cmd {
	case "run":
		slog.Info("kiosk_event", "event", "starting", "version", version, "mode", cfg.Mode, "api", cfg.APIURL)
		err = runKiosk(ctx, a, stdout)
	case "login":
		err = cmdLogin(ctx, a, args, stdin, stdout)
	case "logout":
		err = cmdLogout(ctx, a, stdout)
	case "whoami":
		err = cmdWhoami(ctx, a, stdout)
	case "scanner":
		err = cmdScanner(ctx, a, args, stdout)
	case "users":
		err = cmdUsers(ctx, a, stdout)
	case "register-card":
		err = cmdRegisterCard(ctx, a, args, stdout)
	case "today":
		err = cmdToday(ctx, a, stdout)
	case "qr":
		err = cmdQR(ctx, a, args, stdout)
	case "instances":
		err = cmdInstances(ctx, a, stdout)
	case "purge":
		err = cmdPurge(ctx, a, stdout)
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errExitQuiet):
		return 1
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}
