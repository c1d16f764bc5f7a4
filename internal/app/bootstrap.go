// Package app wires storage, config, and RBAC seeding for commands and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sitecheck/internal/config"
	"sitecheck/internal/repo"
)

// Bootstrap seeds the org config row and the configured roles and permissions,
// then grants the admin role to adminActorID. Everything is INSERT OR IGNORE
// so repeated runs are harmless.
func Bootstrap(ctx context.Context, db *sql.DB, cfg *config.Config, adminActorID string) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r := repo.Repo{DB: db}
	if err := r.UpsertOrgConfig(ctx, cfg); err != nil {
		return fmt.Errorf("seed org config: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for roleID, role := range cfg.RBAC.Roles {
		if err := r.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return fmt.Errorf("seed role %s: %w", roleID, err)
		}
		for _, perm := range role.Permissions {
			if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
				return fmt.Errorf("seed permission %s: %w", perm, err)
			}
			if err := r.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return fmt.Errorf("grant %s to %s: %w", perm, roleID, err)
			}
		}
	}
	if adminActorID != "" {
		now := time.Now().UTC().Format(time.RFC3339)
		if err := r.EnsureActor(ctx, tx, adminActorID, now); err != nil {
			return err
		}
		if _, ok := cfg.RBAC.Roles["admin"]; ok {
			if err := r.AssignRole(ctx, tx, adminActorID, "admin"); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// AssignRole grants a configured role to an actor, creating the role row from
// config if the roles have not been seeded yet.
func AssignRole(ctx context.Context, db *sql.DB, cfg *config.Config, actorID, roleID string) error {
	if actorID == "" || roleID == "" {
		return fmt.Errorf("actor and role required")
	}
	r := repo.Repo{DB: db}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	desc := ""
	var perms []string
	if cfg != nil {
		if roleDef, ok := cfg.RBAC.Roles[roleID]; ok {
			desc = roleDef.Description
			perms = roleDef.Permissions
		}
	}
	if err := r.InsertRole(ctx, tx, roleID, desc); err != nil {
		return err
	}
	for _, perm := range perms {
		if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
			return err
		}
		if err := r.AddRolePermission(ctx, tx, roleID, perm); err != nil {
			return err
		}
	}
	if err := r.EnsureActor(ctx, tx, actorID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := r.AssignRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes a role grant from an actor.
func RevokeRole(ctx context.Context, db *sql.DB, actorID, roleID string) error {
	if actorID == "" || roleID == "" {
		return fmt.Errorf("actor and role required")
	}
	r := repo.Repo{DB: db}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.RevokeRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	return tx.Commit()
}
