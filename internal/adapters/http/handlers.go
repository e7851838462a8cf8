package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"frontdesk/internal/adapters/http/middleware"
	"frontdesk/internal/domain/account"
	"frontdesk/internal/domain/attendance"
	"frontdesk/internal/domain/scan"
	"frontdesk/internal/domain/scancontrol"
)

const maxRequestBody = 64 << 10

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	middleware.WriteMessage(w, http.StatusInternalServerError, "Internal server error.")
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response_encode_failed", "error", err)
	}
}

type wireUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func toWireUser(a account.Account) wireUser {
	return wireUser{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role}
}

type wireRecord struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

func toWireRecord(r attendance.Record) *wireRecord {
	return &wireRecord{
		ID:        r.ID,
		UserID:    r.AccountID,
		UserName:  r.UserName,
		Action:    r.Action,
		Timestamp: attendance.FormatTimestamp(r.Timestamp),
	}
}

func optionalTimestamp(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := attendance.FormatTimestamp(t)
	return &s
}

func scanMessage(r attendance.Record) string {
	if r.IsCheckIn() {
		return fmt.Sprintf("%s checked in.", r.UserName)
	}
	return fmt.Sprintf("%s checked out.", r.UserName)
}

// handleLogin handles POST /login.
// PRE: body is {"email","password"}
// POST: Returns {token, user} or 422 for bad credentials, 423 while locked
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := strictDecode(w, r, &in); err != nil {
		middleware.WriteMessage(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		middleware.WriteMessage(w, http.StatusUnprocessableEntity, "Email and password are required.")
		return
	}

	a, err := s.dir.Authenticate(in.Email, in.Password)
	switch {
	case errors.Is(err, account.ErrLocked):
		middleware.WriteMessage(w, http.StatusLocked, "Account is temporarily locked. Try again later.")
		return
	case err != nil:
		slog.Info("auth_event", "event", "login_failed", "email", in.Email)
		middleware.WriteMessage(w, http.StatusUnprocessableEntity, "Invalid email or password.")
		return
	}

	token, err := s.tokens.Issue(a.ID, a.Role)
	if err != nil {
		internalError(w, err)
		return
	}
	slog.Info("auth_event", "event", "login", "user_id", a.ID, "role", a.Role)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": toWireUser(a)})
}

// handleMe handles GET /user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())
	a, ok := s.dir.Account(sess.UserID)
	if !ok {
		middleware.WriteMessage(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toWireUser(a)})
}

// handleLogout handles POST /logout.
// POST: The presented token no longer authenticates
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())
	s.tokens.Revoke(sess)
	slog.Info("auth_event", "event", "logout", "user_id", sess.UserID)
	middleware.WriteMessage(w, http.StatusOK, "Logged out.")
}

// handleRFIDScan handles POST /attendance/rfid/scan.
// POST: Returns {message, record}; 423 while paused, 404 for unknown cards
func (s *Server) handleRFIDScan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CardID string `json:"card_id"`
	}
	if err := strictDecode(w, r, &in); err != nil {
		middleware.WriteMessage(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if scan.NormalizeCardID(in.CardID) == "" {
		middleware.WriteMessage(w, http.StatusUnprocessableEntity, "card_id is required.")
		return
	}

	_, rec, err := s.dir.ScanCard(in.CardID)
	switch {
	case errors.Is(err, ErrScannerPaused):
		middleware.WriteMessage(w, http.StatusLocked, "Scanner is currently paused by admin.")
		return
	case errors.Is(err, ErrCardNotRegistered):
		middleware.WriteMessage(w, http.StatusNotFound, "RFID card not registered.")
		return
	case err != nil:
		internalError(w, err)
		return
	}
	slog.Info("attendance_event", "event", "rfid_scan", "user_id", rec.AccountID, "action", rec.Action)
	writeJSON(w, http.StatusOK, map[string]any{"message": scanMessage(rec), "record": toWireRecord(rec)})
}

// handleRFIDRegister handles POST /attendance/rfid/register. Admin only.
func (s *Server) handleRFIDRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID int64  `json:"user_id"`
		CardID string `json:"card_id"`
	}
	if err := strictDecode(w, r, &in); err != nil {
		middleware.WriteMessage(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if in.UserID <= 0 || scan.NormalizeCardID(in.CardID) == "" {
		middleware.WriteMessage(w, http.StatusUnprocessableEntity, "user_id and card_id are required.")
		return
	}

	a, err := s.dir.RegisterCard(in.UserID, in.CardID)
	switch {
	case errors.Is(err, ErrNoSuchUser):
		middleware.WriteMessage(w, http.StatusNotFound, "User not found.")
		return
	case errors.Is(err, ErrCardTaken):
		middleware.WriteMessage(w, http.StatusConflict, "Card is already registered to another user.")
		return
	case err != nil:
		internalError(w, err)
		return
	}
	slog.Info("attendance_event", "event", "card_registered", "user_id", a.ID)
	middleware.WriteMessage(w, http.StatusOK, fmt.Sprintf("RFID card registered to %s.", a.Name))
}

// handleUsers handles GET /attendance/users. Admin only.
// An optional ?q= filters by name or email.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	type member struct {
		wireUser
		CardID string `json:"card_id"`
	}
	users := []member{}
	for _, a := range s.dir.Members() {
		if q != "" && !strings.Contains(strings.ToLower(a.Name), q) && !strings.Contains(strings.ToLower(a.Email), q) {
			continue
		}
		users = append(users, member{wireUser: toWireUser(a), CardID: a.CardID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func writeScanControl(w http.ResponseWriter, st scancontrol.State) {
	writeJSON(w, http.StatusOK, map[string]any{
		"is_active":  st.IsActive,
		"updated_at": st.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// handleScanControl handles GET /attendance/scanner-control.
func (s *Server) handleScanControl(w http.ResponseWriter, r *http.Request) {
	writeScanControl(w, s.dir.ScanControl())
}

// handleSetScanControl handles POST /attendance/scanner-control. Admin only.
func (s *Server) handleSetScanControl(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IsActive *bool `json:"is_active"`
	}
	if err := strictDecode(w, r, &in); err != nil || in.IsActive == nil {
		middleware.WriteMessage(w, http.StatusUnprocessableEntity, "is_active is required.")
		return
	}
	st := s.dir.SetScanControl(*in.IsActive)
	sess, _ := middleware.GetSessionFromContext(r.Context())
	slog.Info("scan_control_event", "event", "toggled", "is_active", st.IsActive, "by", sess.UserID)
	writeScanControl(w, st)
}

// handleIssueQR handles POST /attendance/qr-tokens. Admin or trainer.
// POST: Returns {token, type, expires_at, url}; the url form is what QR codes encode
func (s *Server) handleIssueQR(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type string `json:"type"`
	}
	if err := strictDecode(w, r, &in); err != nil {
		middleware.WriteMessage(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	role := strings.ToLower(strings.TrimSpace(in.Type))
	token, expires, err := s.dir.IssueQR(role)
	if err != nil {
		middleware.WriteMessage(w, http.StatusUnprocessableEntity, "type must be user or trainer.")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"type":       role,
		"expires_at": expires.UTC().Format(time.RFC3339),
		"url":        "frontdesk://check-in?token=" + token + "&type=" + role,
	})
}

// handleQRScan returns the handler for POST /<role>/check-in/scan.
func (s *Server) handleQRScan(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Token string `json:"token"`
		}
		if err := strictDecode(w, r, &in); err != nil || strings.TrimSpace(in.Token) == "" {
			middleware.WriteMessage(w, http.StatusUnprocessableEntity, "token is required.")
			return
		}
		sess, _ := middleware.GetSessionFromContext(r.Context())
		rec, err := s.dir.RedeemQR(in.Token, sess.UserID, role)
		switch {
		case errors.Is(err, ErrQRInvalid):
			middleware.WriteMessage(w, http.StatusUnprocessableEntity, "Invalid QR code.")
			return
		case errors.Is(err, ErrQRExpired):
			middleware.WriteMessage(w, http.StatusGone, "QR code expired.")
			return
		case errors.Is(err, ErrQRWrongRole):
			middleware.WriteMessage(w, http.StatusUnprocessableEntity, "This QR code is not for "+role+" check-in.")
			return
		case err != nil:
			middleware.WriteMessage(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}
		slog.Info("attendance_event", "event", "qr_scan", "user_id", rec.AccountID, "role", role, "action", rec.Action)
		writeJSON(w, http.StatusOK, map[string]any{"message": scanMessage(rec), "record": toWireRecord(rec)})
	}
}

// handleCheckInStatus handles GET /<role>/check-in.
func (s *Server) handleCheckInStatus(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.GetSessionFromContext(r.Context())
	sum := s.dir.Summary(sess.UserID)
	recent := make([]*wireRecord, 0, len(sum.Recent))
	for _, rec := range sum.Recent {
		recent = append(recent, toWireRecord(rec))
	}
	var latest *wireRecord
	if sum.Latest != nil {
		latest = toWireRecord(*sum.Latest)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"latest_scan":    latest,
		"recent_scans":   recent,
		"last_check_in":  optionalTimestamp(sum.LastCheckIn),
		"last_check_out": optionalTimestamp(sum.LastCheckOut),
	})
}

// handlePerf handles GET /debug/perf. Admin only.
func (s *Server) handlePerf(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot(s.started, 10))
}
