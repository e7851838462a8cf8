package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"frontdesk/internal/adapters/keyboard"
	"frontdesk/internal/application/orchestrators"
	"frontdesk/internal/application/poller"
	"frontdesk/internal/application/scancontrol"
	"frontdesk/internal/config"
	"frontdesk/internal/domain/account"
	"frontdesk/internal/domain/attendance"
	"frontdesk/internal/domain/kiosk"
	"frontdesk/internal/domain/scan"
)

const (
	heartbeatEvery    = kiosk.HeartbeatTTL / 4
	todayRefreshEvery = 30 * time.Second
)

// modeRoles are the signed-in roles allowed to run each kiosk mode.
var modeRoles = map[string][]string{
	kiosk.ModePublic:  {account.RoleAdministrator, account.RoleTrainer},
	kiosk.ModeUser:    {account.RoleUser},
	kiosk.ModeTrainer: {account.RoleTrainer},
}

// printer serializes status lines from decoder callbacks.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) status(s orchestrators.Status) {
	if s.Text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] %s\n", s.Severity, s.Text)
}

func (p *printer) today(role string, c attendance.TodayCache) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, formatToday(role, c))
}

func formatToday(role string, c attendance.TodayCache) string {
	in, out := "-", "-"
	if !c.CheckInTime.IsZero() {
		in = c.CheckInTime.Format("15:04")
	}
	if !c.CheckOutTime.IsZero() {
		out = c.CheckOutTime.Format("15:04")
	}
	return fmt.Sprintf("today (%s): in %s, out %s", role, in, out)
}

func decoderOptions(cfg config.Kiosk) keyboard.Options {
	opts := keyboard.DefaultOptions()
	opts.MinLength = cfg.MinLength
	opts.ResetAfter = cfg.ResetAfter
	opts.SubmitOnIdle = cfg.SubmitOnIdle
	opts.TerminateOnTab = cfg.TerminateOnTab
	return opts
}

// runKiosk is the default subcommand: reader -> decoder -> orchestrator,
// gated by the scan-control synchronizer, until ctx ends.
func runKiosk(ctx context.Context, a *agent, out io.Writer) error {
	mode := a.cfg.Mode
	if err := a.signIn(ctx, modeRoles[mode]...); err != nil {
		return err
	}
	if err := a.shared.Start(ctx); err != nil {
		return err
	}

	launchDeps := orchestrators.LaunchKioskDeps{Instances: a.instances}
	sess, err := orchestrators.ExecuteLaunchKiosk(ctx, orchestrators.LaunchKioskInput{
		Mode:   mode,
		Device: deviceLabel(a.cfg),
	}, launchDeps)
	if err != nil {
		return err
	}
	defer func() {
		// ctx is already cancelled here
		exitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := orchestrators.ExecuteExitKiosk(exitCtx, &sess, orchestrators.ExitKioskDeps{Instances: a.instances}); err != nil {
			slog.Warn("kiosk_event", "event", "exit_failed", "error", err)
		}
		a.collector.LogSummary(a.started)
	}()
	heartbeat := poller.Start(ctx, heartbeatEvery, func(ctx context.Context) {
		if err := orchestrators.ExecuteKioskHeartbeat(ctx, sess, launchDeps); err != nil {
			slog.Warn("kiosk_event", "event", "heartbeat_failed", "error", err)
		}
	})
	defer heartbeat.Stop()

	stopRollover, err := orchestrators.StartCacheRollover(ctx, orchestrators.PurgeStaleAttendanceDeps{
		Shared:    a.shared,
		Compactor: a.shared,
	})
	if err != nil {
		return err
	}
	defer stopRollover()

	deps := scancontrol.Deps{Reader: a.client, Cache: a.shared, Watcher: a.shared}
	if u, _ := a.auth.User(); u.IsAdmin() {
		deps.Writer = a.client
	}
	gate := scancontrol.New(ctx, deps, scancontrol.Options{Interval: a.cfg.PollInterval})
	stopGate := gate.Start(ctx)
	defer stopGate()
	var readerGate scanGate = gate
	if mode != kiosk.ModePublic {
		// personal modes scan the signed-in user's own code or card
		readerGate = alwaysOn{}
	}

	p := &printer{out: out}
	role := kiosk.QRType(mode)
	if role != "" {
		refresh := poller.Start(ctx, todayRefreshEvery, func(ctx context.Context) {
			res := orchestrators.ExecuteLoadAttendanceToday(ctx, orchestrators.LoadAttendanceTodayInput{Role: role},
				orchestrators.LoadAttendanceTodayDeps{Backend: a.client, Shared: a.shared})
			p.status(res.Status)
			if res.Status.Severity == "" {
				p.today(role, res.Today)
			}
		})
		defer refresh.Stop()
	}

	var onScan func(scan.Event)
	if usesQR(a.cfg) {
		guard := orchestrators.NewGuard(orchestrators.DefaultQRCooldown, nil)
		onScan = func(e scan.Event) {
			res := orchestrators.ExecuteQRCheckIn(ctx, orchestrators.QRCheckInInput{Text: e.CardID, Mode: mode},
				orchestrators.QRCheckInDeps{Backend: a.client, Shared: a.shared, Guard: guard})
			if !res.Ignored {
				p.status(res.Status)
			}
		}
	} else {
		submitter := orchestrators.NewScanSubmitter(orchestrators.ScanSubmitterDeps{
			Backend: a.client,
			Gate:    readerGate,
			Shared:  a.shared,
			Guard:   orchestrators.NewGuard(a.cfg.Cooldown, nil),
			Role:    role,
		})
		onScan = func(e scan.Event) {
			res := submitter.Submit(ctx, e.CardID)
			if !res.Ignored {
				p.status(res.Status)
			}
			if res.PendingCardID != "" {
				slog.Info("scan_event", "event", "card_pending_registration")
			}
		}
	}

	readerDone := make(chan error, 1)
	go func() { readerDone <- runReader(ctx, a.cfg, readerGate, onScan) }()
	slog.Info("kiosk_event", "event", "ready", "mode", mode, "reader", a.cfg.Reader, "instance_id", sess.InstanceID)

	select {
	case <-ctx.Done():
		return nil
	case <-a.signedOut:
		return errors.New("session ended by the backend; run `kiosk login` again")
	case err := <-readerDone:
		return err
	}
}

// usesQR reports whether the mode reads QR payloads instead of card ids.
func usesQR(cfg config.Kiosk) bool {
	switch cfg.Mode {
	case kiosk.ModeUser:
		return true
	case kiosk.ModeTrainer:
		return cfg.TrainerInput != config.TrainerInputRFID
	}
	return false
}

// scanGate is the part of the scan-control synchronizer a reader follows.
type scanGate interface {
	Enabled() bool
	Subscribe(fn func(enabled bool)) (cancel func())
}

type alwaysOn struct{}

func (alwaysOn) Enabled() bool { return true }
func (alwaysOn) Subscribe(func(enabled bool)) func() { return func() {} }

// follow keeps a decoder's active state in step with the scanner flag.
func follow(gate scanGate, setActive func(bool)) (stop func()) {
	stop = gate.Subscribe(setActive)
	setActive(gate.Enabled())
	return stop
}

func deviceLabel(cfg config.Kiosk) string {
	if cfg.Device == "" && cfg.Reader == config.ReaderStream {
		return "stdin"
	}
	if cfg.Device == "" {
		return "auto"
	}
	return cfg.Device
}

// runReader feeds the configured reader into a decoder until ctx ends.
// The decoder captures only while gate reports scanning enabled.
func runReader(ctx context.Context, cfg config.Kiosk, gate scanGate, onScan func(scan.Event)) error {
	opts := decoderOptions(cfg)
	if cfg.Reader == config.ReaderKeyboard {
		path := cfg.Device
		if !strings.HasPrefix(path, "/dev/") {
			match := path
			if match == "" {
				match = "rfid"
			}
			var err error
			if path, err = keyboard.FindEvdev(match); err != nil {
				return err
			}
		}
		bus := keyboard.NewBus()
		src, err := keyboard.OpenEvdev(path, bus)
		if err != nil {
			return err
		}
		defer src.Close()
		dec := keyboard.NewDecoder(bus, onScan, opts)
		defer dec.Close()
		defer follow(gate, dec.SetActive)()
		return src.Run(ctx)
	}

	var r io.Reader = os.Stdin
	if cfg.Device != "" && cfg.Device != "stdin" {
		f, err := os.Open(cfg.Device)
		if err != nil {
			return fmt.Errorf("open reader %s: %w", cfg.Device, err)
		}
		defer f.Close()
		r = f
	}
	field := keyboard.NewFieldDecoder(onScan, nil, opts)
	defer field.Close()
	defer follow(gate, field.SetActive)()
	if err := keyboard.NewStreamSource(r).Run(ctx, field); err != nil {
		return err
	}
	if ctx.Err() == nil {
		// EOF: let a trailing unterminated read flush on idle before exiting.
		time.Sleep(opts.ResetAfter + 50*time.Millisecond)
	}
	return nil
}
