package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"frontdesk/internal/domain/account"
	"frontdesk/internal/domain/attendance"
	"frontdesk/internal/domain/scancontrol"
	"frontdesk/internal/domain/session"
)

// ScanControlPaths are tried in order until one answers with something
// other than 404. Backends have shipped each of these names.
var ScanControlPaths = []string{
	"/attendance/scanner-control",
	"/attendance/scan-control",
	"/attendance/scanner/status",
}

// flexID accepts numeric or string record ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type wireRecord struct {
	ID        flexID `json:"id"`
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

func (c *Client) record(w *wireRecord) (*attendance.Record, error) {
	if w == nil {
		return nil, nil
	}
	ts, err := attendance.ParseTimestamp(w.Timestamp, c.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: record timestamp: %v", ErrUnexpectedShape, err)
	}
	r := &attendance.Record{
		ID:        string(w.ID),
		AccountID: w.UserID,
		UserName:  w.UserName,
		Action:    attendance.NormalizeAction(w.Action),
		Timestamp: ts,
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: record: %v", ErrUnexpectedShape, err)
	}
	return r, nil
}

func (c *Client) optionalTime(v *string) (time.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return time.Time{}, nil
	}
	t, err := attendance.ParseTimestamp(*v, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return t, nil
}

func validUser(u session.UserProfile) error {
	if u.ID == 0 && strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: user has neither id nor name", ErrUnexpectedShape)
	}
	return nil
}

// Login exchanges credentials for a session.
// POST: The returned session passes Validate
func (c *Client) Login(ctx context.Context, email, password string) (session.AuthSession, error) {
	var out struct {
		Token string               `json:"token"`
		User  *session.UserProfile `json:"user"`
	}
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", in, &out); err != nil {
		return session.AuthSession{}, err
	}
	if out.User == nil {
		return session.AuthSession{}, fmt.Errorf("%w: login response has no user", ErrUnexpectedShape)
	}
	s := session.AuthSession{Token: out.Token, User: *out.User}
	if err := s.Validate(); err != nil {
		return session.AuthSession{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return s, nil
}

// Me returns the profile behind the current token.
func (c *Client) Me(ctx context.Context) (session.UserProfile, error) {
	var out struct {
		User *session.UserProfile `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/user", nil, &out); err != nil {
		return session.UserProfile{}, err
	}
	if out.User == nil {
		return session.UserProfile{}, fmt.Errorf("%w: profile response has no user", ErrUnexpectedShape)
	}
	if err := validUser(*out.User); err != nil {
		return session.UserProfile{}, err
	}
	return *out.User, nil
}

// Logout revokes the current token.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil)
}

// ScanResult is the backend's answer to a check-in scan.
type ScanResult struct {
	Message string
	Record  *attendance.Record
}

type wireScan struct {
	Message string      `json:"message"`
	Record  *wireRecord `json:"record"`
}

func (c *Client) scanResult(w wireScan) (ScanResult, error) {
	r, err := c.record(w.Record)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Message: strings.TrimSpace(w.Message), Record: r}, nil
}

// ScanRFID records a card tap.
func (c *Client) ScanRFID(ctx context.Context, cardID string) (ScanResult, error) {
	var out wireScan
	in := map[string]string{"card_id": cardID}
	if err := c.do(ctx, http.MethodPost, "/attendance/rfid/scan", in, &out); err != nil {
		return ScanResult{}, err
	}
	return c.scanResult(out)
}

// RegisterCard binds cardID to a user.
func (c *Client) RegisterCard(ctx context.Context, userID int64, cardID string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	in := struct {
		UserID int64  `json:"user_id"`
		CardID string `json:"card_id"`
	}{userID, cardID}
	if err := c.do(ctx, http.MethodPost, "/attendance/rfid/register", in, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Message), nil
}

// Member is a user listed for card registration.
type Member struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	CardID string `json:"card_id"`
}

// Users lists members that can be given a card.
func (c *Client) Users(ctx context.Context) ([]Member, error) {
	var out struct {
		Users *[]Member `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/attendance/users", nil, &out); err != nil {
		return nil, err
	}
	if out.Users == nil {
		return nil, fmt.Errorf("%w: users response has no users", ErrUnexpectedShape)
	}
	return *out.Users, nil
}

type wireScanControl struct {
	IsActive  *bool  `json:"is_active"`
	UpdatedAt string `json:"updated_at"`
}

func (c *Client) scanControlState(w wireScanControl) (scancontrol.State, error) {
	if w.IsActive == nil {
		return scancontrol.State{}, fmt.Errorf("%w: scan control has no is_active", ErrUnexpectedShape)
	}
	st := scancontrol.State{IsActive: *w.IsActive}
	if w.UpdatedAt != "" {
		if t, err := attendance.ParseTimestamp(w.UpdatedAt, c.loc); err == nil {
			st.UpdatedAt = t
		}
	}
	return st, nil
}

// ScanControl reads the global scanner flag. The first candidate path that
// does not 404 is remembered and tried first; a later 404 on it forgets it
// and moves on to the other candidates in the same call.
func (c *Client) ScanControl(ctx context.Context) (scancontrol.State, error) {
	c.mu.Lock()
	paths := ScanControlPaths
	if c.scanPath != "" {
		paths = []string{c.scanPath}
		for _, p := range ScanControlPaths {
			if p != c.scanPath {
				paths = append(paths, p)
			}
		}
	}
	c.mu.Unlock()

	var lastErr error
	for _, p := range paths {
		var out wireScanControl
		err := c.do(ctx, http.MethodGet, p, nil, &out)
		if errors.Is(err, ErrNotFound) {
			lastErr = err
			c.rememberScanPath(p, false)
			continue
		}
		if err != nil {
			return scancontrol.State{}, err
		}
		c.rememberScanPath(p, true)
		return c.scanControlState(out)
	}
	return scancontrol.State{}, lastErr
}

func (c *Client) rememberScanPath(p string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case ok:
		c.scanPath = p
	case c.scanPath == p:
		c.scanPath = ""
	}
}

// SetScanControl changes the global scanner flag. Admin only.
func (c *Client) SetScanControl(ctx context.Context, active bool) (scancontrol.State, error) {
	var out wireScanControl
	in := map[string]bool{"is_active": active}
	if err := c.do(ctx, http.MethodPost, ScanControlPaths[0], in, &out); err != nil {
		return scancontrol.State{}, err
	}
	return c.scanControlState(out)
}

func rolePath(role string) (string, error) {
	switch role {
	case account.RoleUser, account.RoleTrainer:
		return "/" + role + "/check-in", nil
	}
	return "", fmt.Errorf("no check-in endpoint for role %q", role)
}

// QRCheckIn submits a scanned QR token for the role's check-in endpoint.
func (c *Client) QRCheckIn(ctx context.Context, role, token string) (ScanResult, error) {
	p, err := rolePath(role)
	if err != nil {
		return ScanResult{}, err
	}
	var out wireScan
	if err := c.do(ctx, http.MethodPost, p+"/scan", map[string]string{"token": token}, &out); err != nil {
		return ScanResult{}, err
	}
	return c.scanResult(out)
}

// CheckInStatus is the backend's attendance summary for the signed-in user.
type CheckInStatus struct {
	Latest       *attendance.Record
	Recent       []attendance.Record
	LastCheckIn  time.Time
	LastCheckOut time.Time
}

// CheckIn fetches the role's attendance summary.
func (c *Client) CheckIn(ctx context.Context, role string) (CheckInStatus, error) {
	p, err := rolePath(role)
	if err != nil {
		return CheckInStatus{}, err
	}
	var out struct {
		LatestScan   *wireRecord  `json:"latest_scan"`
		RecentScans  []wireRecord `json:"recent_scans"`
		LastCheckIn  *string      `json:"last_check_in"`
		LastCheckOut *string      `json:"last_check_out"`
	}
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return CheckInStatus{}, err
	}

	var st CheckInStatus
	if st.Latest, err = c.record(out.LatestScan); err != nil {
		return CheckInStatus{}, err
	}
	for i := range out.RecentScans {
		r, err := c.record(&out.RecentScans[i])
		if err != nil {
			return CheckInStatus{}, err
		}
		st.Recent = append(st.Recent, *r)
	}
	if st.LastCheckIn, err = c.optionalTime(out.LastCheckIn); err != nil {
		return CheckInStatus{}, err
	}
	if st.LastCheckOut, err = c.optionalTime(out.LastCheckOut); err != nil {
		return CheckInStatus{}, err
	}
	return st, nil
}
