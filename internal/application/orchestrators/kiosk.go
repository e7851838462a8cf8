package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kioskstore "frontdesk/internal/adapters/storage/kiosk"
	"frontdesk/internal/domain/kiosk"

	"github.com/google/uuid"
)

// LaunchKioskInput carries input for registering a running agent.
type LaunchKioskInput struct {
	Mode   string
	Device string
}

// LaunchKioskDeps holds dependencies for LaunchKiosk.
type LaunchKioskDeps struct {
	Instances  kioskstore.Store
	GenerateID func() string
	Now        func() time.Time
}

// ExecuteLaunchKiosk registers this agent as a live instance.
// Instances that stopped heartbeating are pruned first.
// PRE: input.Mode is a valid kiosk mode
// POST: Returns the persisted active Session
func ExecuteLaunchKiosk(ctx context.Context, input LaunchKioskInput, deps LaunchKioskDeps) (kiosk.Session, error) {
	if deps.GenerateID == nil {
		deps.GenerateID = func() string { return uuid.New().String() }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	now := deps.Now()

	s := kiosk.Session{
		InstanceID: deps.GenerateID(),
		Mode:       input.Mode,
		Device:     input.Device,
		StartedAt:  now,
		LastSeen:   now,
	}
	if err := s.Validate(); err != nil {
		return kiosk.Session{}, err
	}

	if n, err := deps.Instances.DeleteSeenBefore(ctx, now.Add(-kiosk.HeartbeatTTL)); err != nil {
		slog.Warn("storage_unavailable", "store", "instances", "op", "prune", "error", err)
	} else if n > 0 {
		slog.Info("kiosk_event", "event", "stale_instances_pruned", "count", n)
	}

	if err := deps.Instances.Save(ctx, s); err != nil {
		return kiosk.Session{}, fmt.Errorf("register instance: %w", err)
	}
	slog.Info("kiosk_event", "event", "kiosk_launched", "instance_id", s.InstanceID, "mode", s.Mode, "device", s.Device)
	return s, nil
}

// ExecuteKioskHeartbeat marks the instance as still running.
func ExecuteKioskHeartbeat(ctx context.Context, s kiosk.Session, deps LaunchKioskDeps) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if !s.IsActive() {
		return kiosk.ErrNotActive
	}
	return deps.Instances.Touch(ctx, s.InstanceID, deps.Now())
}

// ExitKioskDeps holds dependencies for ExitKiosk.
type ExitKioskDeps struct {
	Instances kioskstore.Store
	Now       func() time.Time
}

// ExecuteExitKiosk ends the session and unregisters the instance.
// PRE: s is active
// POST: s.EndedAt is set and the instance row is gone
func ExecuteExitKiosk(ctx context.Context, s *kiosk.Session, deps ExitKioskDeps) error {
	if s == nil {
		return errors.New("kiosk session is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if err := s.End(deps.Now()); err != nil {
		return err
	}
	if err := deps.Instances.Delete(ctx, s.InstanceID); err != nil {
		return fmt.Errorf("unregister instance: %w", err)
	}
	slog.Info("kiosk_event", "event", "kiosk_exited", "instance_id", s.InstanceID,
		"uptime", s.EndedAt.Sub(s.StartedAt).Round(time.Second).String())
	return nil
}

// ListKioskInstances returns the instances that are still heartbeating.
func ListKioskInstances(ctx context.Context, instances kioskstore.Store, now time.Time) ([]kiosk.Session, error) {
	all, err := instances.List(ctx)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, s := range all {
		if !s.IsStale(now) {
			live = append(live, s)
		}
	}
	return live, nil
}
