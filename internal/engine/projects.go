package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateline/internal/domain"
	"gateline/internal/engine/auth"
	"gateline/internal/events"
)

type ProjectCreateOptions struct {
	Name    string
	Client  string
	DealRef string
}

// CreateProject creates the project with its full stage pipeline and the
// template deliverables of every stage in one transaction.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions, actor auth.Actor) (p domain.Project, err error) {
	const op = "create_project"
	defer e.observe(op, time.Now(), &err)
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return p, validation(op, "name is required")
	}
	if actor.ID == "" {
		return p, validation(op, "actor is required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return p, err
	}
	defer cancel()
	defer tx.Rollback()

	now := e.stamp()
	p = domain.Project{
		ID:        uuid.NewString(),
		Name:      opts.Name,
		Client:    strings.TrimSpace(opts.Client),
		DealRef:   strings.TrimSpace(opts.DealRef),
		Status:    domain.ProjectActive,
		CreatedBy: actor.ID,
		CreatedAt: now,
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		if p.DealRef != "" {
			if ce := classify(op, err); KindOf(ce) == KindInvalidState {
				return domain.Project{}, invalidState(op, "a project already exists for deal %s", p.DealRef)
			}
		}
		return domain.Project{}, classify(op, err)
	}
	taskCount := 0
	for i, st := range domain.StageCatalog() {
		stage := domain.Stage{
			ID:        uuid.NewString(),
			ProjectID: p.ID,
			Type:      st,
			Status:    e.Rules.InitialStatus(st),
			Order:     i + 1,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertStageTx(ctx, tx, stage); err != nil {
			return domain.Project{}, classify(op, err)
		}
		for _, title := range e.Rules.Template(st) {
			t := domain.Task{
				ID:        uuid.NewString(),
				StageID:   stage.ID,
				ProjectID: p.ID,
				Title:     title,
				Status:    domain.TaskOpen,
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
				return domain.Project{}, classify(op, err)
			}
			taskCount++
		}
	}
	if err := e.emit(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actor.ID, events.EventPayload{
		"name": p.Name, "client": p.Client, "deal_ref": p.DealRef, "tasks": taskCount,
	}); err != nil {
		return domain.Project{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, classify(op, err)
	}
	e.logger().Info("project created", "project_id", p.ID, "actor_id", actor.ID, "stages", len(domain.StageCatalog()))
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, classify("get_project", err)
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, status string) ([]domain.Project, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	ps, err := e.Repo.ListProjects(ctx, status)
	if err != nil {
		return nil, classify("list_projects", err)
	}
	return ps, nil
}

// DeleteProject removes a project and everything it owns.
func (e Engine) DeleteProject(ctx context.Context, id string, actor auth.Actor) (err error) {
	const op = "delete_project"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermAdmin); err != nil {
		return unauthorized(op, err)
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()
	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return classify(op, err)
	}
	if err := e.Repo.DeleteProjectTx(ctx, tx, id); err != nil {
		return classify(op, err)
	}
	if err := e.emit(ctx, tx, events.ProjectDeleted, p.ID, "project", p.ID, actor.ID, events.EventPayload{"name": p.Name}); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	e.logger().Info("project deleted", "project_id", id, "actor_id", actor.ID)
	return nil
}
