package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"frontdesk/internal/domain/account"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	t     *testing.T
	clock *clock
	dir   *Directory
	srv   *Server
	admin account.Account
	user  account.Account
	coach account.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{t: testStart}
	dir := NewDirectory(c.Now)
	srv, err := NewServer(dir, Options{
		JWTSecret:          "test-secret",
		CSRFKey:            bytes.Repeat([]byte{7}, 32),
		RateLimitPerSecond: 1000,
		Now:                c.Now,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f := &fixture{t: t, clock: c, dir: dir, srv: srv}
	f.admin = f.add("Ada Admin", "ada@example.com", account.RoleAdministrator)
	f.user = f.add("Uma User", "uma@example.com", account.RoleUser)
	f.coach = f.add("Tess Trainer", "tess@example.com", account.RoleTrainer)
	return f
}

func (f *fixture) add(name, email, role string) account.Account {
	f.t.Helper()
	a, err := f.dir.AddAccount(name, email, role, "password123")
	if err != nil {
		f.t.Fatalf("AddAccount(%s): %v", email, err)
	}
	return a
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, APIPrefix+path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(email string) string {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/login", "", map[string]string{"email": email, "password": "password123"})
	if rec.Code != http.StatusOK {
		f.t.Fatalf("login %s: %d %s", email, rec.Code, rec.Body)
	}
	var out struct {
		Token string `json:"token"`
	}
	decode(f.t, rec, &out)
	return out.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Message string `json:"message"`
	}
	decode(t, rec, &out)
	return out.Message
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		raw      string
		wantCode int
	}{
		{"valid credentials", map[string]string{"email": "uma@example.com", "password": "password123"}, "", http.StatusOK},
		{"email is case insensitive", map[string]string{"email": " UMA@example.com ", "password": "password123"}, "", http.StatusOK},
		{"wrong password", map[string]string{"email": "uma@example.com", "password": "nope"}, "", http.StatusUnprocessableEntity},
		{"unknown email", map[string]string{"email": "who@example.com", "password": "password123"}, "", http.StatusUnprocessableEntity},
		{"missing password", map[string]string{"email": "uma@example.com"}, "", http.StatusUnprocessableEntity},
		{"unknown field", map[string]string{"email": "uma@example.com", "password": "password123", "extra": "x"}, "", http.StatusBadRequest},
		{"malformed body", nil, "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var rec *httptest.ResponseRecorder
			if tt.raw != "" {
				req := httptest.NewRequest(http.MethodPost, APIPrefix+"/login", strings.NewReader(tt.raw))
				req.Header.Set("Content-Type", "application/json")
				rec = httptest.NewRecorder()
				f.srv.ServeHTTP(rec, req)
			} else {
				rec = f.do(http.MethodPost, "/login", "", tt.body)
			}
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var out struct {
				Token string   `json:"token"`
				User  wireUser `json:"user"`
			}
			decode(t, rec, &out)
			if out.Token == "" || out.User.ID != f.user.ID || out.User.Role != account.RoleUser {
				t.Errorf("login response = %+v", out)
			}
		})
	}
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	bad := map[string]string{"email": "uma@example.com", "password": "wrong-password"}
	for i := 0; i < 5; i++ {
		f.do(http.MethodPost, "/login", "", bad)
	}
	good := map[string]string{"email": "uma@example.com", "password": "password123"}
	if rec := f.do(http.MethodPost, "/login", "", good); rec.Code != http.StatusLocked {
		t.Fatalf("locked login code = %d", rec.Code)
	}
	f.clock.Advance(16 * time.Minute)
	if rec := f.do(http.MethodPost, "/login", "", good); rec.Code != http.StatusOK {
		t.Fatalf("login after lock expiry code = %d", rec.Code)
	}
}

func TestMeAndLogout(t *testing.T) {
	f := newFixture(t)
	token := f.login("uma@example.com")

	rec := f.do(http.MethodGet, "/user", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /user = %d", rec.Code)
	}
	var out struct {
		User wireUser `json:"user"`
	}
	decode(t, rec, &out)
	if out.User.Email != "uma@example.com" {
		t.Errorf("user = %+v", out.User)
	}

	if rec := f.do(http.MethodPost, "/logout", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/user", token, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("GET /user after logout = %d, want 401", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/user", "/attendance/scanner-control", "/user/check-in"} {
		if rec := f.do(http.MethodGet, path, "", nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d", path, rec.Code)
		}
	}
	if rec := f.do(http.MethodGet, "/user", "not-a-jwt", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token = %d", rec.Code)
	}

	token := f.login("uma@example.com")
	f.clock.Advance(13 * time.Hour)
	if rec := f.do(http.MethodGet, "/user", token, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token = %d", rec.Code)
	}
}

func TestRFIDScan_TogglesCheckInAndOut(t *testing.T) {
	f := newFixture(t)
	if _, err := f.dir.RegisterCard(f.user.ID, "0004567890"); err != nil {
		t.Fatal(err)
	}
	token := f.login("tess@example.com")

	want := []struct{ action, msg string }{
		{"check_in", "Uma User checked in."},
		{"check_out", "Uma User checked out."},
		{"check_in", "Uma User checked in."},
	}
	for i, w := range want {
		rec := f.do(http.MethodPost, "/attendance/rfid/scan", token, map[string]string{"card_id": "0004567890"})
		if rec.Code != http.StatusOK {
			t.Fatalf("scan %d = %d %s", i, rec.Code, rec.Body)
		}
		var out struct {
			Message string     `json:"message"`
			Record  wireRecord `json:"record"`
		}
		decode(t, rec, &out)
		if out.Record.Action != w.action || out.Message != w.msg {
			t.Errorf("scan %d = %q %q, want %q %q", i, out.Record.Action, out.Message, w.action, w.msg)
		}
		if out.Record.UserID != f.user.ID || out.Record.Timestamp != "2026-03-02 09:00:00" {
			t.Errorf("scan %d record = %+v", i, out.Record)
		}
	}
}

func TestRFIDScan_NewDayStartsWithCheckIn(t *testing.T) {
	f := newFixture(t)
	f.dir.RegisterCard(f.user.ID, "1234")
	f.dir.ScanCard("1234")
	f.clock.Advance(24 * time.Hour)
	_, rec, err := f.dir.ScanCard("1234")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsCheckIn() {
		t.Errorf("first scan of a new day = %s", rec.Action)
	}
}

func TestRFIDScan_Errors(t *testing.T) {
	tests := []struct {
		name     string
		as       string
		body     any
		pause    bool
		wantCode int
		wantMsg  string
	}{
		{"unregistered card", "tess@example.com", map[string]string{"card_id": "999"}, false, http.StatusNotFound, "RFID card not registered."},
		{"scanner paused", "ada@example.com", map[string]string{"card_id": "1234"}, true, http.StatusLocked, "Scanner is currently paused by admin."},
		{"blank card", "ada@example.com", map[string]string{"card_id": "  "}, false, http.StatusUnprocessableEntity, "card_id is required."},
		{"member may not scan", "uma@example.com", map[string]string{"card_id": "1234"}, false, http.StatusForbidden, "Forbidden."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.dir.RegisterCard(f.user.ID, "1234")
			if tt.pause {
				f.dir.SetScanControl(false)
			}
			rec := f.do(http.MethodPost, "/attendance/rfid/scan", f.login(tt.as), tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := message(t, rec); got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestRFIDRegister(t *testing.T) {
	f := newFixture(t)
	admin := f.login("ada@example.com")

	rec := f.do(http.MethodPost, "/attendance/rfid/register", admin, map[string]any{"user_id": f.user.ID, "card_id": "0001"})
	if rec.Code != http.StatusOK || message(t, rec) != "RFID card registered to Uma User." {
		t.Fatalf("register = %d %s", rec.Code, rec.Body)
	}

	rec = f.do(http.MethodPost, "/attendance/rfid/register", admin, map[string]any{"user_id": f.coach.ID, "card_id": "0001"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate card = %d, want 409", rec.Code)
	}
	rec = f.do(http.MethodPost, "/attendance/rfid/register", admin, map[string]any{"user_id": 404, "card_id": "0002"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user = %d, want 404", rec.Code)
	}

	// Re-registering moves the user to the new card.
	f.do(http.MethodPost, "/attendance/rfid/register", admin, map[string]any{"user_id": f.user.ID, "card_id": "0003"})
	if _, _, err := f.dir.ScanCard("0001"); err != ErrCardNotRegistered {
		t.Errorf("old card still scans: %v", err)
	}

	trainer := f.login("tess@example.com")
	rec = f.do(http.MethodPost, "/attendance/rfid/register", trainer, map[string]any{"user_id": f.user.ID, "card_id": "0004"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("trainer register = %d, want 403", rec.Code)
	}
}

func TestUsers_Filter(t *testing.T) {
	f := newFixture(t)
	f.dir.RegisterCard(f.user.ID, "77")
	admin := f.login("ada@example.com")

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Ada Admin", "Tess Trainer", "Uma User"}},
		{"?q=uma", []string{"Uma User"}},
		{"?q=EXAMPLE.com", []string{"Ada Admin", "Tess Trainer", "Uma User"}},
		{"?q=nobody", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/attendance/users"+tt.query, admin, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("code = %d", rec.Code)
			}
			var out struct {
				Users []struct {
					Name   string `json:"name"`
					CardID string `json:"card_id"`
				} `json:"users"`
			}
			decode(t, rec, &out)
			var names []string
			for _, u := range out.Users {
				names = append(names, u.Name)
				if u.Name == "Uma User" && u.CardID != "77" {
					t.Errorf("card_id = %q", u.CardID)
				}
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestScanControl(t *testing.T) {
	f := newFixture(t)
	admin := f.login("ada@example.com")
	member := f.login("uma@example.com")

	rec := f.do(http.MethodGet, "/attendance/scanner-control", member, nil)
	var st struct {
		IsActive  bool   `json:"is_active"`
		UpdatedAt string `json:"updated_at"`
	}
	decode(t, rec, &st)
	if !st.IsActive {
		t.Fatal("scanner should start active")
	}

	if rec := f.do(http.MethodPost, "/attendance/scanner-control", member, map[string]bool{"is_active": false}); rec.Code != http.StatusForbidden {
		t.Errorf("member toggle = %d, want 403", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/attendance/scanner-control", admin, map[string]string{}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing is_active = %d, want 422", rec.Code)
	}

	f.clock.Advance(time.Minute)
	rec = f.do(http.MethodPost, "/attendance/scanner-control", admin, map[string]bool{"is_active": false})
	decode(t, rec, &st)
	if st.IsActive || st.UpdatedAt != "2026-03-02T09:01:00Z" {
		t.Errorf("after pause = %+v", st)
	}
	if f.dir.ScanControl().IsActive {
		t.Error("directory still active")
	}
}

func issueQR(t *testing.T, f *fixture, token, role string) string {
	t.Helper()
	rec := f.do(http.MethodPost, "/attendance/qr-tokens", token, map[string]string{"type": role})
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue %s = %d %s", role, rec.Code, rec.Body)
	}
	var out struct {
		Token string `json:"token"`
		Type  string `json:"type"`
		URL   string `json:"url"`
	}
	decode(t, rec, &out)
	if out.Type != role || !strings.Contains(out.URL, "token="+out.Token) || !strings.Contains(out.URL, "type="+role) {
		t.Errorf("issued = %+v", out)
	}
	return out.Token
}

func TestQRCheckIn(t *testing.T) {
	f := newFixture(t)
	staff := f.login("tess@example.com")
	member := f.login("uma@example.com")
	userCode := issueQR(t, f, staff, "user")
	trainerCode := issueQR(t, f, staff, "trainer")

	tests := []struct {
		name     string
		token    string
		path     string
		code     string
		wantCode int
		wantMsg  string
	}{
		{"member checks in", member, "/user/check-in/scan", userCode, http.StatusOK, "Uma User checked in."},
		{"member checks out", member, "/user/check-in/scan", userCode, http.StatusOK, "Uma User checked out."},
		{"trainer code on user endpoint", member, "/user/check-in/scan", trainerCode, http.StatusUnprocessableEntity, "This QR code is not for user check-in."},
		{"unknown code", member, "/user/check-in/scan", "nope", http.StatusUnprocessableEntity, "Invalid QR code."},
		{"member on trainer endpoint", member, "/trainer/check-in/scan", trainerCode, http.StatusForbidden, "Forbidden."},
		{"trainer checks in", staff, "/trainer/check-in/scan", trainerCode, http.StatusOK, "Tess Trainer checked in."},
		{"blank token", member, "/user/check-in/scan", " ", http.StatusUnprocessableEntity, "token is required."},
	}
	for _, tt := range tests {
		rec := f.do(http.MethodPost, tt.path, tt.token, map[string]string{"token": tt.code})
		if rec.Code != tt.wantCode {
			t.Errorf("%s: code = %d, want %d (%s)", tt.name, rec.Code, tt.wantCode, rec.Body)
			continue
		}
		if got := message(t, rec); got != tt.wantMsg {
			t.Errorf("%s: message = %q, want %q", tt.name, got, tt.wantMsg)
		}
	}
}

func TestQRCheckIn_Expired(t *testing.T) {
	f := newFixture(t)
	code := issueQR(t, f, f.login("ada@example.com"), "user")
	member := f.login("uma@example.com")
	f.clock.Advance(QRTokenTTL + time.Second)
	if rec := f.do(http.MethodPost, "/user/check-in/scan", member, map[string]string{"token": code}); rec.Code != http.StatusGone {
		t.Errorf("expired code = %d, want 410", rec.Code)
	}
}

func TestIssueQR_RejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/attendance/qr-tokens", f.login("ada@example.com"), map[string]string{"type": "admin"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("code = %d, want 422", rec.Code)
	}
}

func TestCheckInStatus(t *testing.T) {
	f := newFixture(t)
	member := f.login("uma@example.com")

	rec := f.do(http.MethodGet, "/user/check-in", member, nil)
	var empty struct {
		Latest      *wireRecord  `json:"latest_scan"`
		Recent      []wireRecord `json:"recent_scans"`
		LastCheckIn *string      `json:"last_check_in"`
	}
	decode(t, rec, &empty)
	if empty.Latest != nil || len(empty.Recent) != 0 || empty.LastCheckIn != nil {
		t.Errorf("empty summary = %+v", empty)
	}

	f.dir.RegisterCard(f.user.ID, "55")
	f.dir.ScanCard("55")
	f.clock.Advance(time.Hour)
	f.dir.ScanCard("55")

	rec = f.do(http.MethodGet, "/user/check-in", member, nil)
	var out struct {
		Latest       *wireRecord  `json:"latest_scan"`
		Recent       []wireRecord `json:"recent_scans"`
		LastCheckIn  *string      `json:"last_check_in"`
		LastCheckOut *string      `json:"last_check_out"`
	}
	decode(t, rec, &out)
	if out.Latest == nil || out.Latest.Action != "check_out" {
		t.Fatalf("latest = %+v", out.Latest)
	}
	if len(out.Recent) != 2 || out.Recent[0].Action != "check_out" {
		t.Errorf("recent = %+v", out.Recent)
	}
	if out.LastCheckIn == nil || *out.LastCheckIn != "2026-03-02 09:00:00" {
		t.Errorf("last_check_in = %v", out.LastCheckIn)
	}
	if out.LastCheckOut == nil || *out.LastCheckOut != "2026-03-02 10:00:00" {
		t.Errorf("last_check_out = %v", out.LastCheckOut)
	}
}

func TestSecurityHeadersAndHealth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestFormPostWithoutCSRFTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/login", strings.NewReader("email=uma%40example.com&password=password123"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("form post = %d, want 403", rec.Code)
	}
}

func TestPerf_AdminOnly(t *testing.T) {
	f := newFixture(t)
	f.login("uma@example.com")
	if rec := f.do(http.MethodGet, "/debug/perf", f.login("uma@example.com"), nil); rec.Code != http.StatusForbidden {
		t.Errorf("member perf = %d", rec.Code)
	}
	rec := f.do(http.MethodGet, "/debug/perf", f.login("ada@example.com"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin perf = %d", rec.Code)
	}
	if f.srv.Collector().TotalRecorded() == 0 {
		t.Error("collector recorded no requests")
	}
}

func TestNewServer_RequiresSecret(t *testing.T) {
	if _, err := NewServer(NewDirectory(nil), Options{}); err == nil {
		t.Error("expected error without JWT secret")
	}
	if _, err := NewServer(NewDirectory(nil), Options{JWTSecret: "x", Production: true}); err == nil {
		t.Error("expected error without CSRF key in production")
	}
	if _, err := NewServer(NewDirectory(nil), Options{JWTSecret: "x", CSRFKey: []byte("short")}); err == nil {
		t.Error("expected error for a short CSRF key")
	}
}

func TestSeed_IsIdempotent(t *testing.T) {
	dir := NewDirectory(nil)
	for i := 0; i < 2; i++ {
		if err := Seed(dir, "admin@frontdesk.local", "frontdesk-admin"); err != nil {
			t.Fatalf("Seed #%d: %v", i+1, err)
		}
	}
	if n := len(dir.Members()); n != 1 {
		t.Errorf("members = %d, want 1", n)
	}
}
