package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"frontdesk/internal/application/orchestrators"
	"frontdesk/internal/application/scancontrol"
	"frontdesk/internal/domain/account"
	"frontdesk/internal/domain/kiosk"
)

func cmdLogin(ctx context.Context, a *agent, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password (read from stdin when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		fmt.Fprint(out, "Password: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		*password = strings.TrimRight(line, "\r\n")
	}
	role, err := a.auth.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	u, _ := a.auth.User()
	fmt.Fprintf(out, "Signed in as %s (%s).\n", u.Name, role)
	return nil
}

func cmdLogout(ctx context.Context, a *agent, out io.Writer) error {
	if err := a.auth.Hydrate(ctx); err != nil {
		return err
	}
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Signed out.")
	return nil
}

func cmdWhoami(ctx context.Context, a *agent, out io.Writer) error {
	if err := a.signIn(ctx); err != nil {
		return err
	}
	u, _ := a.auth.User()
	fmt.Fprintf(out, "%s <%s> id=%d role=%s state=%s\n", u.Name, u.Email, u.ID, u.Role, a.auth.State())
	return nil
}

func cmdScanner(ctx context.Context, a *agent, args []string, out io.Writer) error {
	action := "status"
	if len(args) > 0 {
		action = args[0]
	}
	if err := a.signIn(ctx); err != nil {
		return err
	}
	deps := scancontrol.Deps{Reader: a.client, Cache: a.shared}
	if u, _ := a.auth.User(); u.IsAdmin() {
		deps.Writer = a.client
	}
	gate := scancontrol.New(ctx, deps, scancontrol.Options{})

	switch action {
	case "status":
		if err := gate.Refresh(ctx); err != nil {
			fmt.Fprintf(out, "warning: %v (showing last known state)\n", err)
		}
	case "on", "off":
		if err := gate.SetEnabled(ctx, action == "on"); err != nil {
			if errors.Is(err, scancontrol.ErrReadOnly) {
				return errors.New("only admins can change the scanner state")
			}
			return err
		}
	default:
		return fmt.Errorf("unknown scanner action %q (want status, on or off)", action)
	}

	state := "paused"
	if gate.Enabled() {
		state = "active"
	}
	st := gate.State()
	fmt.Fprintf(out, "Scanner is %s", state)
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(out, " (since %s)", st.UpdatedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(out, ".")
	return nil
}

func cmdRegisterCard(ctx context.Context, a *agent, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("register-card", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "backend user id")
	card := fs.String("card", "", "card id (defaults to the last unregistered tap)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.auth.Hydrate(ctx); err != nil {
		return err
	}
	st := orchestrators.ExecuteRegisterCard(ctx, orchestrators.RegisterCardInput{UserID: *userID, CardID: *card},
		orchestrators.RegisterCardDeps{Backend: a.client, Auth: a.auth, Shared: a.shared})
	fmt.Fprintf(out, "[%s] %s\n", st.Severity, st.Text)
	if st.Failed() {
		return errExitQuiet
	}
	return nil
}

func cmdUsers(ctx context.Context, a *agent, out io.Writer) error {
	if err := a.signIn(ctx, account.RoleAdministrator); err != nil {
		return err
	}
	users, err := a.client.Users(ctx)
	if err != nil {
		return err
	}
	if pending := orchestrators.PendingCard(ctx, a.shared); pending != "" {
		fmt.Fprintf(out, "Pending card: %s\n", pending)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tCARD")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role, u.CardID)
	}
	return tw.Flush()
}

// checkInRole picks the QR role: the configured mode when it takes QR codes,
// otherwise the signed-in user's own role.
func checkInRole(a *agent) (string, error) {
	if role := kiosk.QRType(a.cfg.Mode); role != "" {
		return role, nil
	}
	u, _ := a.auth.User()
	switch {
	case u.HasRole(account.RoleTrainer):
		return account.RoleTrainer, nil
	case u.HasRole(account.RoleUser):
		return account.RoleUser, nil
	}
	return "", fmt.Errorf("role %q has no check-in", u.Role)
}

func cmdToday(ctx context.Context, a *agent, out io.Writer) error {
	if err := a.signIn(ctx, account.RoleUser, account.RoleTrainer); err != nil {
		return err
	}
	role, err := checkInRole(a)
	if err != nil {
		return err
	}
	res := orchestrators.ExecuteLoadAttendanceToday(ctx, orchestrators.LoadAttendanceTodayInput{Role: role},
		orchestrators.LoadAttendanceTodayDeps{Backend: a.client, Shared: a.shared})
	if res.Status.Text != "" {
		fmt.Fprintf(out, "[%s] %s\n", res.Status.Severity, res.Status.Text)
	}
	fmt.Fprintln(out, formatToday(role, res.Today))
	return nil
}

func cmdQR(ctx context.Context, a *agent, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("qr", flag.ContinueOnError)
	text := fs.String("text", "", "decoded QR payload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.signIn(ctx, account.RoleUser, account.RoleTrainer); err != nil {
		return err
	}
	role, err := checkInRole(a)
	if err != nil {
		return err
	}
	res := orchestrators.ExecuteQRCheckIn(ctx, orchestrators.QRCheckInInput{Text: *text, Mode: role},
		orchestrators.QRCheckInDeps{Backend: a.client, Shared: a.shared})
	fmt.Fprintf(out, "[%s] %s\n", res.Status.Severity, res.Status.Text)
	if res.Status.Failed() {
		return errExitQuiet
	}
	return nil
}

func cmdInstances(ctx context.Context, a *agent, out io.Writer) error {
	list, err := orchestrators.ListKioskInstances(ctx, a.instances, time.Now())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No running kiosks.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tMODE\tDEVICE\tSTARTED\tLAST SEEN")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.InstanceID, s.Mode, s.Device,
			s.StartedAt.Local().Format(time.DateTime), s.LastSeen.Local().Format(time.TimeOnly))
	}
	return tw.Flush()
}

func cmdPurge(ctx context.Context, a *agent, out io.Writer) error {
	res, err := orchestrators.ExecutePurgeStaleAttendance(ctx, orchestrators.PurgeStaleAttendanceDeps{
		Shared:    a.shared,
		Compactor: a.shared,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d stale cache entries and %d tombstones.\n", res.Removed, res.Tombstones)
	return nil
}

// errExitQuiet exits non-zero after the status line was already printed.
var errExitQuiet = errors.New("")

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: kiosk <command> [flags]

commands:
  run                          read cards and check people in (default)
  login -email E [-password P] sign in and persist the session
  logout                       sign out everywhere on this machine
  whoami                       show the signed-in user
  scanner [status|on|off]      show or change the global scanner flag
  users                        list members for card registration (admin)
  register-card -user ID [-card C]
                               bind a card to a member (admin)
  today                        show today's check-in summary
  qr -text PAYLOAD             submit a scanned QR code
  instances                    list running kiosks sharing this store
  purge                        drop attendance caches from earlier days

configuration is read from FRONTDESK_* variables and an optional .env file.
`)
}
