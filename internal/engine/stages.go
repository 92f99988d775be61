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
	"gateline/internal/gate"
	"gateline/internal/notify"
	"gateline/internal/repo"
)

// CloseStage completes an in-progress stage whose gate passes and unlocks
// its immediate successor.
func (e Engine) CloseStage(ctx context.Context, stageID string, actor auth.Actor) (err error) {
	const op = "close_stage"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesManage); err != nil {
		return unauthorized(op, err)
	}
	return e.stageCommand(ctx, op, stageID, actor, nil)
}

// stageRecorder writes a stage's artifact inside the closing transaction.
type stageRecorder func(ctx context.Context, tx *sql.Tx, stage domain.Stage) error

// stageCommand loads the stage, applies record (if any), evaluates the gate
// and closes the stage, all in one transaction. A failing gate rolls back the
// recorded artifact too.
func (e Engine) stageCommand(ctx context.Context, op, stageID string, actor auth.Actor, record stageRecorder) error {
	parent := ctx
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()

	stage, err := e.Repo.GetStageTx(ctx, tx, stageID)
	if err != nil {
		return classify(op, err)
	}
	if stage.Status != domain.StageInProgress {
		return invalidState(op, "stage %s is %s, not in_progress", stage.Type, stage.Status)
	}
	if record != nil {
		if err := record(ctx, tx, stage); err != nil {
			return classify(op, err)
		}
	}
	snap, err := e.snapshotTx(ctx, tx, stage)
	if err != nil {
		return classify(op, err)
	}
	res := e.Gates.Evaluate(stage.Type, snap)
	if !res.Passed {
		e.Metrics.GateRejected(stage.Type.String())
		return gateNotSatisfied(op, res.Unmet)
	}
	notices, err := e.completeStageTx(ctx, tx, stage, actor)
	if err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	e.logger().Info("stage closed", "stage_id", stage.ID, "project_id", stage.ProjectID, "stage_type", stage.Type.String(), "actor_id", actor.ID)
	e.deliver(parent, notices)
	return nil
}

// completeStageTx marks stage completed and unlocks stage order+1 if it is
// still locked. Closing the stage before the terminal handover stage marks
// the project delivered.
func (e Engine) completeStageTx(ctx context.Context, tx *sql.Tx, stage domain.Stage, actor auth.Actor) ([]notice, error) {
	now := e.stamp()
	if err := e.Repo.UpdateStageStatusTx(ctx, tx, stage.ID, stage.Status, domain.StageCompleted, now); err != nil {
		return nil, err
	}
	e.Metrics.StageTransition(stage.Type.String(), string(domain.StageCompleted))
	if err := e.emit(ctx, tx, events.StageCompleted, stage.ProjectID, "stage", stage.ID, actor.ID, events.EventPayload{
		"stage_type": stage.Type.String(), "order": stage.Order,
	}); err != nil {
		return nil, err
	}
	next, err := e.Repo.StageByOrderTx(ctx, tx, stage.ProjectID, stage.Order+1)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var notices []notice
	if next.Status == domain.StageLocked {
		n, err := e.unlockTx(ctx, tx, next, actor, now)
		if err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	if next.Type == domain.StageExecutionHandover {
		p, err := e.Repo.GetProjectTx(ctx, tx, stage.ProjectID)
		if err != nil {
			return nil, err
		}
		if p.Status == domain.ProjectActive {
			if err := e.Repo.UpdateProjectStatusTx(ctx, tx, p.ID, domain.ProjectActive, domain.ProjectCompleted, nil); err != nil {
				return nil, err
			}
			if err := e.emit(ctx, tx, events.ProjectCompleted, p.ID, "project", p.ID, actor.ID, nil); err != nil {
				return nil, err
			}
		}
	}
	return notices, nil
}

func (e Engine) unlockTx(ctx context.Context, tx *sql.Tx, stage domain.Stage, actor auth.Actor, now string) (notice, error) {
	if err := e.Repo.UpdateStageStatusTx(ctx, tx, stage.ID, domain.StageLocked, domain.StageInProgress, now); err != nil {
		return notice{}, err
	}
	e.Metrics.StageTransition(stage.Type.String(), string(domain.StageInProgress))
	if err := e.emit(ctx, tx, events.StageUnlocked, stage.ProjectID, "stage", stage.ID, actor.ID, events.EventPayload{
		"stage_type": stage.Type.String(), "order": stage.Order,
	}); err != nil {
		return notice{}, err
	}
	return notice{
		channel: notify.ChannelStageUnlocked,
		message: fmt.Sprintf("Stage %d %q is now in progress (project %s)", stage.Order, stage.Type.Label(), stage.ProjectID),
	}, nil
}

// UnlockStage starts a locked stage ahead of its predecessor's completion.
func (e Engine) UnlockStage(ctx context.Context, stageID string, actor auth.Actor) (err error) {
	const op = "unlock_stage"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesManage); err != nil {
		return unauthorized(op, err)
	}
	parent := ctx
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()
	stage, err := e.Repo.GetStageTx(ctx, tx, stageID)
	if err != nil {
		return classify(op, err)
	}
	if stage.Status != domain.StageLocked {
		return invalidState(op, "stage %s is %s, not locked", stage.Type, stage.Status)
	}
	n, err := e.unlockTx(ctx, tx, stage, actor, e.stamp())
	if err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	e.logger().Info("stage unlocked early", "stage_id", stage.ID, "project_id", stage.ProjectID, "actor_id", actor.ID)
	e.deliver(parent, []notice{n})
	return nil
}

// snapshotTx gathers what the stage's gate inspects.
func (e Engine) snapshotTx(ctx context.Context, tx *sql.Tx, stage domain.Stage) (gate.Snapshot, error) {
	var snap gate.Snapshot
	var err error
	switch stage.Type {
	case domain.StageSiteVisit:
		snap.SiteVisit, err = optional(e.Repo.GetSiteVisitTx(ctx, tx, stage.ID))
	case domain.StageMeasurement:
		snap.Measurement, err = optional(e.Repo.GetMeasurementTx(ctx, tx, stage.ID))
	case domain.StageQSHandover:
		snap.QS, err = optional(e.Repo.GetQSValidationTx(ctx, tx, stage.ID))
	case domain.StageTechnicalReview:
		snap.Signoffs, err = e.Repo.ListSignoffsTx(ctx, tx, stage.ID)
	case domain.StageExecutionHandover:
		var p domain.Project
		p, err = e.Repo.GetProjectTx(ctx, tx, stage.ProjectID)
		snap.Handover = p.Handover
	default:
		snap.Tasks, err = e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{StageID: stage.ID})
	}
	return snap, err
}

func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// StageView is a stage with its deliverables, artifacts and a gate preview.
type StageView struct {
	Stage       domain.Stage                   `json:"stage"`
	Tasks       []domain.Task                  `json:"tasks"`
	SiteVisit   *domain.SiteVisitLog           `json:"site_visit,omitempty"`
	Measurement *domain.MeasurementRequisition `json:"measurement,omitempty"`
	QS          *domain.QSValidation           `json:"qs_validation,omitempty"`
	Signoffs    []domain.DisciplineSignoff     `json:"signoffs,omitempty"`
	Handover    *domain.Handover               `json:"handover,omitempty"`
	Gate        gate.Result                    `json:"gate"`
}

func (e Engine) StageDetail(ctx context.Context, stageID string) (StageView, error) {
	const op = "stage_detail"
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return StageView{}, err
	}
	defer cancel()
	defer tx.Rollback()
	stage, err := e.Repo.GetStageTx(ctx, tx, stageID)
	if err != nil {
		return StageView{}, classify(op, err)
	}
	snap, err := e.snapshotTx(ctx, tx, stage)
	if err != nil {
		return StageView{}, classify(op, err)
	}
	tasks := snap.Tasks
	if tasks == nil {
		if tasks, err = e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{StageID: stage.ID}); err != nil {
			return StageView{}, classify(op, err)
		}
	}
	v := StageView{
		Stage:       stage,
		Tasks:       tasks,
		SiteVisit:   snap.SiteVisit,
		Measurement: snap.Measurement,
		QS:          snap.QS,
		Signoffs:    snap.Signoffs,
		Gate:        e.Gates.Evaluate(stage.Type, snap),
	}
	if stage.Type == domain.StageExecutionHandover {
		v.Handover = &snap.Handover
	}
	return v, nil
}

// ListStages returns a project's stages in pipeline order.
func (e Engine) ListStages(ctx context.Context, projectID string) ([]domain.Stage, error) {
	const op = "list_stages"
	ctx, cancel := e.read(ctx)
	defer cancel()
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, classify(op, err)
	}
	stages, err := e.Repo.ListStages(ctx, projectID)
	if err != nil {
		return nil, classify(op, err)
	}
	return stages, nil
}
