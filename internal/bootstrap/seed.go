// Package bootstrap seeds the minimum rows a fresh deployment needs.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/across/internal/auth"
	"github.com/nextlevelbuilder/across/internal/quota"
	"github.com/nextlevelbuilder/across/internal/store"
)

// SeedParams configures the initial admin account.
type SeedParams struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// Seed is idempotent: existing rows are left alone.
func Seed(ctx context.Context, stores *store.Stores, p SeedParams) error {
	ws, err := ensureWorkspace(ctx, stores)
	if err != nil {
		return err
	}
	if err := ensureAdmin(ctx, stores, ws, p); err != nil {
		return err
	}
	return ensureGlobalQuota(ctx, stores)
}

func ensureWorkspace(ctx context.Context, stores *store.Stores) (*store.Workspace, error) {
	ws, err := stores.Workspaces.GetByName(ctx, "default")
	if err == nil {
		return ws, nil
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("load default workspace: %w", err)
	}

	ws = &store.Workspace{ID: store.GenNewID(), Name: "default", Slug: "default"}
	if err := stores.Workspaces.Create(ctx, ws); err != nil {
		return nil, fmt.Errorf("create default workspace: %w", err)
	}
	slog.Info("bootstrap.workspace_created", "workspace_id", ws.ID)
	return ws, nil
}

func ensureAdmin(ctx context.Context, stores *store.Stores, ws *store.Workspace, p SeedParams) error {
	if p.AdminEmail == "" || p.AdminPassword == "" {
		return nil
	}
	if _, err := stores.Users.GetByEmail(ctx, p.AdminEmail); err == nil {
		return nil
	} else if !store.IsNotFound(err) {
		return fmt.Errorf("look up admin user: %w", err)
	}

	hash, err := auth.HashPassword(p.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	name := p.AdminName
	if name == "" {
		name = "Administrator"
	}
	u := &store.User{
		ID:           store.GenNewID(),
		WorkspaceID:  &ws.ID,
		Email:        p.AdminEmail,
		PasswordHash: hash,
		Name:         name,
		Role:         store.RoleAdmin,
		IsActive:     true,
		IsVerified:   true,
	}
	if err := stores.Users.Create(ctx, u); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	slog.Info("bootstrap.admin_created", "email", u.Email)
	return nil
}

func ensureGlobalQuota(ctx context.Context, stores *store.Stores) error {
	q, err := stores.Usage.GetGlobalQuota(ctx)
	if err != nil {
		return fmt.Errorf("load global quota: %w", err)
	}
	if q != nil {
		return nil
	}
	q = &store.UsageQuota{
		ID:                    store.GenNewID(),
		AlertThresholdPercent: quota.DefaultAlertThresholdPercent,
	}
	if err := stores.Usage.CreateQuota(ctx, q); err != nil {
		return fmt.Errorf("seed global quota: %w", err)
	}
	slog.Info("bootstrap.global_quota_created", "quota_id", q.ID)
	return nil
}
