package orchestrators

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"frontdesk/internal/adapters/api"
	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/domain/attendance"
	"frontdesk/internal/domain/kiosk"
	"frontdesk/internal/domain/scan"
)

// QR check-in messages
const (
	MsgInvalidQR     = "Invalid QR code format."
	MsgQRCheckedIn   = "Check-in recorded."
	MsgQRCheckedOut  = "Check-out recorded."
	MsgQRRecorded    = "Recorded."
	MsgQRScanFailed  = "Scan failed."
	msgWrongQRFormat = "This QR code is for %s check-in."
)

// QRBackend posts scanned QR tokens.
type QRBackend interface {
	QRCheckIn(ctx context.Context, role, token string) (api.ScanResult, error)
}

// QRCheckInInput carries input for a QR check-in.
type QRCheckInInput struct {
	Text string // decoded QR payload
	Mode string // kiosk.ModeUser or kiosk.ModeTrainer
}

// QRCheckInDeps holds dependencies for QRCheckIn.
type QRCheckInDeps struct {
	Backend QRBackend
	Shared  kv.Adapter // optional; today cache
	Guard   *Guard     // optional; nil skips double-submit protection
	Now     func() time.Time
}

// QRCheckInResult is the outcome of one QR scan.
type QRCheckInResult struct {
	Status  Status
	Record  *attendance.Record
	Ignored bool
	// KeepScanning is false after a check-out, when the day is done.
	KeepScanning bool
}

// ExecuteQRCheckIn parses a QR payload and records a check-in or check-out.
// PRE: input.Mode has a QR type (user or trainer)
// POST: Never returns an error; failures are danger Status values
func ExecuteQRCheckIn(ctx context.Context, input QRCheckInInput, deps QRCheckInDeps) QRCheckInResult {
	role := kiosk.QRType(input.Mode)
	if role == "" {
		return QRCheckInResult{Status: danger(fmt.Sprintf("Kiosk mode %q does not accept QR codes.", input.Mode))}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Guard != nil {
		if !deps.Guard.TryAcquire() {
			return QRCheckInResult{Ignored: true, KeepScanning: true}
		}
		res := submitQR(ctx, role, input, deps)
		deps.Guard.Release(!res.Status.Failed())
		return res
	}
	return submitQR(ctx, role, input, deps)
}

func submitQR(ctx context.Context, role string, input QRCheckInInput, deps QRCheckInDeps) QRCheckInResult {
	qr, err := scan.ParseQR(input.Text)
	if err != nil {
		return QRCheckInResult{Status: danger(MsgInvalidQR), KeepScanning: true}
	}
	if qr.Type != "" && qr.Type != role {
		return QRCheckInResult{Status: danger(fmt.Sprintf(msgWrongQRFormat, qr.Type)), KeepScanning: true}
	}

	res, err := deps.Backend.QRCheckIn(ctx, role, qr.Token)
	if err != nil {
		slog.Warn("attendance_event", "event", "qr_rejected", "role", role, "error", err)
		return QRCheckInResult{Status: danger(api.Message(err, MsgQRScanFailed)), KeepScanning: true}
	}

	now := deps.Now()
	out := QRCheckInResult{Record: res.Record, KeepScanning: true}
	text := res.Message
	switch {
	case res.Record != nil && res.Record.IsCheckIn():
		if text == "" {
			text = MsgQRCheckedIn
		}
	case res.Record != nil:
		if text == "" {
			text = MsgQRCheckedOut
		}
		out.KeepScanning = false
	default:
		if text == "" {
			text = MsgQRRecorded
		}
	}
	out.Status = success(text)
	if deps.Shared != nil {
		recordToday(ctx, deps.Shared, role, res.Record, now)
	}
	slog.Info("attendance_event", "event", "qr_recorded", "role", role, "keep_scanning", out.KeepScanning)
	return out
}
