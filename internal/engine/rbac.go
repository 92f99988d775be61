package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateline/internal/config"
	"gateline/internal/domain"
	"gateline/internal/engine/auth"
	"gateline/internal/events"
	"gateline/internal/repo"
)

const AdminRole = "admin"

type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Actor resolves an actor id into its granted roles and their permissions.
func (e Engine) Actor(ctx context.Context, actorID string) (auth.Actor, error) {
	const op = "resolve_actor"
	ctx, cancel := e.read(ctx)
	defer cancel()
	svc := auth.Service{DB: e.DB, Config: e.Config}
	a, err := svc.Actor(ctx, actorID, nil, nil)
	if err != nil {
		if strings.TrimSpace(actorID) == "" {
			return auth.Actor{}, validation(op, "actor id is required")
		}
		return auth.Actor{}, classify(op, err)
	}
	return a, nil
}

func (e Engine) WhoAmI(ctx context.Context, actor auth.Actor) (WhoAmI, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	roles, err := e.Repo.ActorRoles(ctx, actor.ID)
	if err != nil {
		return WhoAmI{}, classify("whoami", err)
	}
	if roles == nil {
		roles = []string{}
	}
	return WhoAmI{ActorID: actor.ID, Roles: roles, Permissions: actor.Capabilities.List()}, nil
}

// Bootstrap grants the admin role to actorID when no actor holds it yet.
// It reports whether a grant happened.
func (e Engine) Bootstrap(ctx context.Context, actorID string) (granted bool, err error) {
	const op = "bootstrap"
	defer e.observe(op, time.Now(), &err)
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return false, validation(op, "actor id is required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return false, err
	}
	defer cancel()
	defer tx.Rollback()
	n, err := e.Repo.CountActorsWithRoleTx(ctx, tx, AdminRole)
	if err != nil {
		return false, classify(op, err)
	}
	if n > 0 {
		return false, nil
	}
	now := e.stamp()
	if err := e.Repo.EnsureActorTx(ctx, tx, actorID, now); err != nil {
		return false, classify(op, err)
	}
	if err := e.Repo.AssignRoleTx(ctx, tx, actorID, AdminRole, actorID, now); err != nil {
		return false, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.RoleGranted, "", "actor", actorID, actorID, events.EventPayload{"role": AdminRole, "bootstrap": true}); err != nil {
		return false, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, classify(op, err)
	}
	e.logger().Info("workspace bootstrapped", "actor_id", actorID)
	return true, nil
}

func (e Engine) GrantRole(ctx context.Context, targetID, roleID string, actor auth.Actor) (err error) {
	const op = "grant_role"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermAdmin); err != nil {
		return unauthorized(op, err)
	}
	targetID, roleID = strings.TrimSpace(targetID), strings.TrimSpace(roleID)
	if err := e.checkRole(op, targetID, roleID); err != nil {
		return err
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()
	now := e.stamp()
	if err := e.Repo.EnsureActorTx(ctx, tx, targetID, now); err != nil {
		return classify(op, err)
	}
	if err := e.Repo.AssignRoleTx(ctx, tx, targetID, roleID, actor.ID, now); err != nil {
		return classify(op, err)
	}
	if err := e.emit(ctx, tx, events.RoleGranted, "", "actor", targetID, actor.ID, events.EventPayload{"role": roleID}); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	e.logger().Info("role granted", "target_id", targetID, "role", roleID, "actor_id", actor.ID)
	return nil
}

func (e Engine) RevokeRole(ctx context.Context, targetID, roleID string, actor auth.Actor) (err error) {
	const op = "revoke_role"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermAdmin); err != nil {
		return unauthorized(op, err)
	}
	targetID, roleID = strings.TrimSpace(targetID), strings.TrimSpace(roleID)
	if targetID == "" || roleID == "" {
		return validation(op, "actor and role are required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()
	if err := e.Repo.RevokeRoleTx(ctx, tx, targetID, roleID); err != nil {
		return classify(op, err)
	}
	if err := e.emit(ctx, tx, events.RoleRevoked, "", "actor", targetID, actor.ID, events.EventPayload{"role": roleID}); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	e.logger().Info("role revoked", "target_id", targetID, "role", roleID, "actor_id", actor.ID)
	return nil
}

func (e Engine) checkRole(op, targetID, roleID string) error {
	if targetID == "" || roleID == "" {
		return validation(op, "actor and role are required")
	}
	if _, ok := e.Config.RBAC.Roles[roleID]; !ok {
		return validation(op, "unknown role %q", roleID)
	}
	return nil
}

type CreatedAPIKey struct {
	domain.APIKey
	// Key is the plaintext secret. It is only returned at creation.
	Key string `json:"key"`
}

// CreateAPIKey mints a key for ownerID. Admins may mint keys for anyone,
// other actors only for themselves.
func (e Engine) CreateAPIKey(ctx context.Context, ownerID, name string, actor auth.Actor) (out CreatedAPIKey, err error) {
	const op = "create_api_key"
	defer e.observe(op, time.Now(), &err)
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		ownerID = actor.ID
	}
	if ownerID == "" {
		return out, validation(op, "actor id is required")
	}
	if ownerID != actor.ID {
		if err := actor.Require(auth.PermAdmin); err != nil {
			return out, unauthorized(op, err)
		}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return out, &Error{Kind: KindInternal, Op: op, Err: err}
	}
	secret := "gl_" + hex.EncodeToString(buf)
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return out, err
	}
	defer cancel()
	defer tx.Rollback()
	now := e.stamp()
	if err := e.Repo.EnsureActorTx(ctx, tx, ownerID, now); err != nil {
		return out, classify(op, err)
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   ownerID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: now,
	}
	if err := e.Repo.InsertAPIKeyTx(ctx, tx, key); err != nil {
		return out, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return out, classify(op, err)
	}
	e.logger().Info("api key created", "key_id", key.ID, "owner_id", ownerID, "actor_id", actor.ID)
	return CreatedAPIKey{APIKey: key, Key: secret}, nil
}

// ListAPIKeys returns key metadata. Admins see every key, or one owner's keys
// when ownerID is set; everyone else sees only their own.
func (e Engine) ListAPIKeys(ctx context.Context, ownerID string, actor auth.Actor) ([]domain.APIKey, error) {
	const op = "list_api_keys"
	ownerID = strings.TrimSpace(ownerID)
	if actor.Require(auth.PermAdmin) != nil {
		if actor.ID == "" {
			return nil, validation(op, "actor id is required")
		}
		if ownerID != "" && ownerID != actor.ID {
			return nil, unauthorized(op, actor.Require(auth.PermAdmin))
		}
		ownerID = actor.ID
	}
	ctx, cancel := e.read(ctx)
	defer cancel()
	keys, err := e.Repo.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, classify(op, err)
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// RevokeAPIKey deletes a key. Owners may revoke their own keys.
func (e Engine) RevokeAPIKey(ctx context.Context, keyID string, actor auth.Actor) (err error) {
	const op = "revoke_api_key"
	defer e.observe(op, time.Now(), &err)
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return validation(op, "key id is required")
	}
	owner := ""
	if actor.Require(auth.PermAdmin) != nil {
		if actor.ID == "" {
			return validation(op, "actor id is required")
		}
		owner = actor.ID
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKeyTx(ctx, tx, keyID, owner); err != nil {
		return classify(op, err)
	}
	if err := e.emit(ctx, tx, events.APIKeyRevoked, "", "api_key", keyID, actor.ID, nil); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	e.logger().Info("api key revoked", "key_id", keyID, "actor_id", actor.ID)
	return nil
}

// ActorForAPIKey resolves a plaintext key to its owner.
func (e Engine) ActorForAPIKey(ctx context.Context, key string) (auth.Actor, error) {
	const op = "resolve_api_key"
	rctx, cancel := e.read(ctx)
	defer cancel()
	k, err := e.Repo.GetAPIKeyByHash(rctx, repo.HashAPIKey(key))
	if err != nil {
		return auth.Actor{}, classify(op, err)
	}
	return e.Actor(ctx, k.ActorID)
}

// ImportConfig validates cfg and makes it the workspace configuration. The
// running engine keeps its current rules; callers rebuild it to pick them up.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config, actor auth.Actor) (err error) {
	const op = "import_config"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermAdmin); err != nil {
		return unauthorized(op, err)
	}
	if cfg == nil {
		return validation(op, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return &Error{Kind: KindValidation, Op: op, Msg: err.Error(), Err: err}
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()
	if err := e.Repo.SaveConfigTx(ctx, tx, cfg); err != nil {
		return classify(op, err)
	}
	if err := e.emit(ctx, tx, events.ConfigImported, "", "config", "workspace", actor.ID, nil); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	e.logger().Info("config imported", "actor_id", actor.ID)
	return nil
}

// ListEvents lists the audit log, newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	out, err := e.Repo.LatestEvents(ctx, f)
	if err != nil {
		return nil, classify("list_events", err)
	}
	return out, nil
}
