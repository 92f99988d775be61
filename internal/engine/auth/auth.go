package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gateline/internal/config"
)

// Permission tags checked by the engine.
const (
	PermStagesManage            = "stages.manage"
	PermStagesQSValidate        = "stages.qs_validate"
	PermStagesDisciplineSignoff = "stages.discipline_signoff"
	PermTasksReview             = "tasks.review"
	PermTasksVerify             = "tasks.verify"
	PermTasksSignoff            = "tasks.signoff"
	PermApproveRequisition      = "requisitions.approve.requisition"
	PermApprovePM               = "requisitions.approve.pm"
	PermApproveQS               = "requisitions.approve.qs"
	PermRequisitionsReceive     = "requisitions.receive"
	PermHandoverDesign          = "handover.design"
	PermHandoverOperations      = "handover.operations"
	PermDashboardView           = "dashboard.view"
	PermAdmin                   = "admin"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Capabilities is an opaque set of permission tags.
type Capabilities map[string]struct{}

func NewCapabilities(perms ...string) Capabilities {
	c := Capabilities{}
	for _, p := range perms {
		if p = strings.TrimSpace(p); p != "" {
			c[p] = struct{}{}
		}
	}
	return c
}

func (c Capabilities) Has(perm string) bool {
	_, ok := c[perm]
	return ok
}

// List returns the tags sorted.
func (c Capabilities) List() []string {
	out := make([]string, 0, len(c))
	for p := range c {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Actor is the caller of an engine operation.
type Actor struct {
	ID           string
	Capabilities Capabilities
}

// Require fails with ForbiddenError unless the actor holds perm.
func (a Actor) Require(perm string) error {
	if a.Capabilities.Has(perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// RequireAny passes when the actor holds at least one of perms.
func (a Actor) RequireAny(perms ...string) error {
	for _, p := range perms {
		if a.Capabilities.Has(p) {
			return nil
		}
	}
	return ForbiddenError{Permission: strings.Join(perms, "|")}
}

// FromRoles expands role ids through the configured role table and merges
// any directly granted permissions.
func FromRoles(cfg *config.Config, roles, perms []string) Capabilities {
	c := NewCapabilities(perms...)
	if cfg == nil {
		return c
	}
	for _, r := range roles {
		role, ok := cfg.RBAC.Roles[r]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			c[p] = struct{}{}
		}
	}
	return c
}

// Service resolves actors against the roles stored in SQL.
type Service struct {
	DB     *sql.DB
	Config *config.Config
}

func (s Service) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	if actorID == "" {
		return nil, errors.New("actor_id required")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// Actor loads the actor's granted roles and merges extra role and permission
// claims, as carried by a bearer token.
func (s Service) Actor(ctx context.Context, actorID string, extraRoles, extraPerms []string) (Actor, error) {
	roles, err := s.ActorRoles(ctx, actorID)
	if err != nil {
		return Actor{}, err
	}
	roles = append(roles, extraRoles...)
	return Actor{ID: actorID, Capabilities: FromRoles(s.Config, roles, extraPerms)}, nil
}
