package web

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"frontdesk/internal/domain/account"
	"frontdesk/internal/domain/attendance"
	"frontdesk/internal/domain/scan"
	"frontdesk/internal/domain/scancontrol"
)

// QRTokenTTL is how long an issued check-in QR code stays valid.
const QRTokenTTL = 5 * time.Minute

// recentLimit caps recent_scans in a check-in summary.
const recentLimit = 10

// Directory errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrNoSuchUser         = errors.New("user not found")
	ErrCardNotRegistered  = errors.New("RFID card not registered")
	ErrCardTaken          = errors.New("card is already registered to another user")
	ErrScannerPaused      = errors.New("scanner is paused")
	ErrQRInvalid          = errors.New("QR code is not recognized")
	ErrQRExpired          = errors.New("QR code expired")
	ErrQRWrongRole        = errors.New("QR code is for another role")
)

type qrGrant struct {
	role      string
	expiresAt time.Time
}

// Summary is one user's attendance as the check-in status endpoint reports it.
type Summary struct {
	Latest       *attendance.Record
	Recent       []attendance.Record // newest first
	LastCheckIn  time.Time
	LastCheckOut time.Time
}

// Directory is the dev backend's in-memory state. It is safe for concurrent use.
type Directory struct {
	now func() time.Time

	mu       sync.Mutex
	accounts map[int64]*account.Account
	byEmail  map[string]int64
	byCard   map[string]int64
	nextID   int64
	records  map[int64][]attendance.Record // oldest first
	scanner  scancontrol.State
	grants   map[string]qrGrant
}

// NewDirectory creates an empty directory with the scanner enabled.
func NewDirectory(now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{
		now:      now,
		accounts: make(map[int64]*account.Account),
		byEmail:  make(map[string]int64),
		byCard:   make(map[string]int64),
		records:  make(map[int64][]attendance.Record),
		scanner:  scancontrol.State{IsActive: true, UpdatedAt: now()},
		grants:   make(map[string]qrGrant),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AddAccount creates an account with a bcrypt-hashed password.
// PRE: the account passes Validate and password meets the length rule
// POST: Returns ErrEmailTaken if the email already exists
func (d *Directory) AddAccount(name, email, role, password string) (account.Account, error) {
	a := account.Account{Email: strings.TrimSpace(email), Name: strings.TrimSpace(name), Role: role}
	if err := a.Validate(); err != nil {
		return account.Account{}, err
	}
	if err := a.SetPassword(password); err != nil {
		return account.Account{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[emailKey(email)]; ok {
		return account.Account{}, ErrEmailTaken
	}
	d.nextID++
	a.ID = d.nextID
	a.CreatedAt = d.now()
	d.accounts[a.ID] = &a
	d.byEmail[emailKey(email)] = a.ID
	return a, nil
}

// Authenticate checks credentials, locking the account after repeated failures.
// POST: Returns ErrInvalidCredentials or account.ErrLocked on failure
func (d *Directory) Authenticate(email, password string) (account.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byEmail[emailKey(email)]
	if !ok {
		return account.Account{}, ErrInvalidCredentials
	}
	a := d.accounts[id]
	now := d.now()
	if a.IsLocked(now) {
		return account.Account{}, account.ErrLocked
	}
	if err := a.CheckPassword(password); err != nil {
		a.RecordFailedLogin(now)
		return account.Account{}, ErrInvalidCredentials
	}
	a.ResetFailedLogins()
	return *a, nil
}

// Account returns the account with id.
func (d *Directory) Account(id int64) (account.Account, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	if !ok {
		return account.Account{}, false
	}
	return *a, true
}

// Members lists every account ordered by name.
func (d *Directory) Members() []account.Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]account.Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RegisterCard binds cardID to the user, replacing any card they had.
// POST: Returns ErrCardTaken if another user holds the card
func (d *Directory) RegisterCard(userID int64, cardID string) (account.Account, error) {
	cardID = scan.NormalizeCardID(cardID)
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[userID]
	if !ok {
		return account.Account{}, ErrNoSuchUser
	}
	if holder, ok := d.byCard[cardID]; ok && holder != userID {
		return account.Account{}, ErrCardTaken
	}
	if a.CardID != "" {
		delete(d.byCard, a.CardID)
	}
	a.CardID = cardID
	d.byCard[cardID] = userID
	return *a, nil
}

// ScanCard records the next action for the card's holder.
// POST: Returns ErrScannerPaused while scanning is off
func (d *Directory) ScanCard(cardID string) (account.Account, attendance.Record, error) {
	cardID = scan.NormalizeCardID(cardID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.scanner.IsActive {
		return account.Account{}, attendance.Record{}, ErrScannerPaused
	}
	id, ok := d.byCard[cardID]
	if !ok {
		return account.Account{}, attendance.Record{}, ErrCardNotRegistered
	}
	a := d.accounts[id]
	return *a, d.record(a), nil
}

// record appends the action following a's last record today.
// PRE: d.mu is held
func (d *Directory) record(a *account.Account) attendance.Record {
	now := d.now().Truncate(time.Second)
	var last *attendance.Record
	if rs := d.records[a.ID]; len(rs) > 0 {
		r := rs[len(rs)-1]
		if attendance.SameDay(r.Timestamp, now, now.Location()) {
			last = &r
		}
	}
	r := attendance.Record{
		ID:        uuid.New().String(),
		AccountID: a.ID,
		UserName:  a.Name,
		Action:    attendance.NextAction(last),
		Timestamp: now,
	}
	d.records[a.ID] = append(d.records[a.ID], r)
	return r
}

// ScanControl returns the global scanner flag.
func (d *Directory) ScanControl() scancontrol.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanner
}

// SetScanControl changes the global scanner flag.
func (d *Directory) SetScanControl(active bool) scancontrol.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanner = scancontrol.State{IsActive: active, UpdatedAt: d.now()}
	return d.scanner
}

// IssueQR creates a check-in code for role.
// PRE: role is user or trainer
func (d *Directory) IssueQR(role string) (string, time.Time, error) {
	if role != account.RoleUser && role != account.RoleTrainer {
		return "", time.Time{}, account.ErrInvalidRole
	}
	token := uuid.New().String()
	expires := d.now().Add(QRTokenTTL)
	d.mu.Lock()
	defer d.mu.Unlock()
	for t, g := range d.grants {
		if d.now().After(g.expiresAt) {
			delete(d.grants, t)
		}
	}
	d.grants[token] = qrGrant{role: role, expiresAt: expires}
	return token, expires, nil
}

// RedeemQR records the next action for userID using a QR code of role.
// Codes are reusable until they expire.
func (d *Directory) RedeemQR(token string, userID int64, role string) (attendance.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.grants[strings.TrimSpace(token)]
	if !ok {
		return attendance.Record{}, ErrQRInvalid
	}
	if d.now().After(g.expiresAt) {
		return attendance.Record{}, ErrQRExpired
	}
	if g.role != role {
		return attendance.Record{}, ErrQRWrongRole
	}
	a, ok := d.accounts[userID]
	if !ok {
		return attendance.Record{}, ErrNoSuchUser
	}
	return d.record(a), nil
}

// Summary returns the user's attendance summary.
func (d *Directory) Summary(userID int64) Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs := d.records[userID]
	var s Summary
	for i := len(rs) - 1; i >= 0; i-- {
		r := rs[i]
		if len(s.Recent) < recentLimit {
			s.Recent = append(s.Recent, r)
		}
		if r.IsCheckIn() && s.LastCheckIn.IsZero() {
			s.LastCheckIn = r.Timestamp
		}
		if !r.IsCheckIn() && s.LastCheckOut.IsZero() {
			s.LastCheckOut = r.Timestamp
		}
	}
	if len(rs) > 0 {
		r := rs[len(rs)-1]
		s.Latest = &r
	}
	return s
}
