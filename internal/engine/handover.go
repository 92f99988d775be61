package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gateline/internal/domain"
	"gateline/internal/engine/auth"
	"gateline/internal/events"
	"gateline/internal/notify"
	"gateline/internal/repo"
)

const (
	HandoverRoleDesign     = "design"
	HandoverRoleOperations = "operations"
)

type HandoverResult struct {
	Project    domain.Project `json:"project"`
	Role       string         `json:"role"`
	HandedOver bool           `json:"handed_over"`
}

// SignHandover records the caller's handover signature. An actor holding both
// signer roles signs for design. Once both signatures exist the terminal
// stage is completed and the project handed over, exactly once.
func (e Engine) SignHandover(ctx context.Context, projectID string, actor auth.Actor) (res HandoverResult, err error) {
	const op = "sign_handover"
	defer e.observe(op, time.Now(), &err)
	var design bool
	switch {
	case actor.Capabilities.Has(auth.PermHandoverDesign):
		design = true
		res.Role = HandoverRoleDesign
	case actor.Capabilities.Has(auth.PermHandoverOperations):
		res.Role = HandoverRoleOperations
	default:
		return res, unauthorized(op, auth.ForbiddenError{Permission: auth.PermHandoverDesign + "|" + auth.PermHandoverOperations})
	}
	parent := ctx
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return res, err
	}
	defer cancel()
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
		return res, classify(op, err)
	}
	now := e.stamp()
	if err := e.Repo.SetHandoverSignatureTx(ctx, tx, projectID, design, actor.ID, now); err != nil {
		return res, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.HandoverSigned, projectID, "project", projectID, actor.ID, events.EventPayload{"role": res.Role}); err != nil {
		return res, classify(op, err)
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return res, classify(op, err)
	}
	var notices []notice
	if p.Handover.Complete() && p.Status != domain.ProjectHandedOver {
		if err := e.completeTerminalStageTx(ctx, tx, p.ID, now); err != nil {
			return res, classify(op, err)
		}
		if err := e.Repo.UpdateProjectStatusTx(ctx, tx, p.ID, p.Status, domain.ProjectHandedOver, &now); err != nil {
			return res, classify(op, err)
		}
		if err := e.emit(ctx, tx, events.ProjectHandedOver, p.ID, "project", p.ID, actor.ID, events.EventPayload{
			"design_signed_by": deref(p.Handover.DesignSignedBy), "operations_signed_by": deref(p.Handover.OperationsSignedBy),
		}); err != nil {
			return res, classify(op, err)
		}
		p.Status = domain.ProjectHandedOver
		p.ClosedAt = &now
		notices = append(notices, notice{
			channel: notify.ChannelProjectHandedOver,
			message: fmt.Sprintf("Project %q handed over to execution", p.Name),
		})
	}
	if err := tx.Commit(); err != nil {
		return res, classify(op, err)
	}
	res.Project = p
	res.HandedOver = p.Status == domain.ProjectHandedOver
	e.logger().Info("handover signed", "project_id", p.ID, "role", res.Role, "actor_id", actor.ID, "handed_over", res.HandedOver)
	if len(notices) > 0 {
		e.Metrics.HandedOver()
		e.deliver(parent, notices)
	}
	return res, nil
}

// completeTerminalStageTx moves the execution handover stage forward to completed.
func (e Engine) completeTerminalStageTx(ctx context.Context, tx *sql.Tx, projectID, now string) error {
	stage, err := e.Repo.StageByTypeTx(ctx, tx, projectID, domain.StageExecutionHandover)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !stage.Status.CanAdvanceTo(domain.StageCompleted) {
		return nil
	}
	if err := e.Repo.UpdateStageStatusTx(ctx, tx, stage.ID, stage.Status, domain.StageCompleted, now); err != nil {
		return err
	}
	e.Metrics.StageTransition(stage.Type.String(), string(domain.StageCompleted))
	return e.emit(ctx, tx, events.StageCompleted, projectID, "stage", stage.ID, "", events.EventPayload{
		"stage_type": stage.Type.String(), "order": stage.Order, "via": "handover",
	})
}
