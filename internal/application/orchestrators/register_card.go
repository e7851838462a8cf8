package orchestrators

import (
	"context"
	"errors"
	"log/slog"

	"frontdesk/internal/adapters/api"
	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/application/auth"
	"frontdesk/internal/domain/account"
	"frontdesk/internal/domain/scan"
	"frontdesk/internal/domain/session"
)

// Card registration messages
const (
	MsgSelectUser     = "Select a user first."
	MsgCardRequired   = "Scan or enter a card id first."
	MsgCardRegistered = "RFID card registered."
	MsgRegisterFailed = "Failed to register RFID card."
	MsgAdminOnly      = "Only admins can register cards."
	MsgNotSignedIn    = "Please sign in first."
)

// CardRegistrar binds cards to users on the backend.
type CardRegistrar interface {
	RegisterCard(ctx context.Context, userID int64, cardID string) (string, error)
}

// RoleGuard checks the signed-in role.
type RoleGuard interface {
	RequireRole(roles ...string) (session.UserProfile, error)
}

// RegisterCardInput carries input for card registration.
type RegisterCardInput struct {
	UserID int64
	CardID string // empty uses the pending card from the last unregistered tap
}

// RegisterCardDeps holds dependencies for RegisterCard.
type RegisterCardDeps struct {
	Backend CardRegistrar
	Auth    RoleGuard
	Shared  kv.Adapter // optional; holds the pending card id
}

// ExecuteRegisterCard binds a card to a user. Admin only.
// PRE: caller is signed in as an administrator
// POST: On success the pending card id is cleared
func ExecuteRegisterCard(ctx context.Context, input RegisterCardInput, deps RegisterCardDeps) Status {
	if _, err := deps.Auth.RequireRole(account.RoleAdministrator); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return danger(MsgNotSignedIn)
		}
		return danger(MsgAdminOnly)
	}
	if input.UserID <= 0 {
		return danger(MsgSelectUser)
	}
	cardID := scan.NormalizeCardID(input.CardID)
	if cardID == "" && deps.Shared != nil {
		cardID = PendingCard(ctx, deps.Shared)
	}
	if cardID == "" {
		return danger(MsgCardRequired)
	}

	msg, err := deps.Backend.RegisterCard(ctx, input.UserID, cardID)
	if err != nil {
		slog.Warn("scan_event", "event", "card_register_failed", "user_id", input.UserID, "card", maskCard(cardID), "error", err)
		return danger(api.Message(err, MsgRegisterFailed))
	}
	if deps.Shared != nil {
		if err := deps.Shared.Remove(ctx, PendingCardKey); err != nil {
			slog.Warn("storage_unavailable", "store", deps.Shared.Name(), "op", "remove", "key", PendingCardKey, "error", err)
		}
	}
	slog.Info("scan_event", "event", "card_registered", "user_id", input.UserID, "card", maskCard(cardID))
	if msg == "" {
		msg = MsgCardRegistered
	}
	return success(msg)
}

// PendingCard returns the last unregistered card id, or "".
func PendingCard(ctx context.Context, shared kv.Adapter) string {
	v, ok, err := shared.Get(ctx, PendingCardKey)
	if err != nil || !ok {
		return ""
	}
	return scan.NormalizeCardID(v)
}
