package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateline/internal/domain"
	"gateline/internal/engine/auth"
	"gateline/internal/events"
	"gateline/internal/notify"
	"gateline/internal/repo"
	"gateline/internal/scoring"
)

// TaskCreateOptions are parameters for creating an ad-hoc task.
type TaskCreateOptions struct {
	StageID string
	Title   string
	OwnerID string
	DueDate *time.Time
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions, actor auth.Actor) (t domain.Task, err error) {
	const op = "create_task"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesManage); err != nil {
		return t, unauthorized(op, err)
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return t, validation(op, "title is required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return t, err
	}
	defer cancel()
	defer tx.Rollback()
	stage, err := e.Repo.GetStageTx(ctx, tx, opts.StageID)
	if err != nil {
		return t, classify(op, err)
	}
	if stage.Status == domain.StageCompleted {
		return t, invalidState(op, "stage %s is already completed", stage.Type)
	}
	now := e.stamp()
	t = domain.Task{
		ID:        uuid.NewString(),
		StageID:   stage.ID,
		ProjectID: stage.ProjectID,
		Title:     opts.Title,
		Status:    domain.TaskOpen,
		DueDate:   formatDate(opts.DueDate),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if owner := strings.TrimSpace(opts.OwnerID); owner != "" {
		t.OwnerID = &owner
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.TaskCreated, t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{
		"stage_id": t.StageID, "title": t.Title, "owner_id": t.OwnerID, "due_date": t.DueDate,
	}); err != nil {
		return domain.Task{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, classify(op, err)
	}
	return t, nil
}

// AssignTask sets owner and due date regardless of the task's status.
func (e Engine) AssignTask(ctx context.Context, taskID, ownerID string, due *time.Time, actor auth.Actor) (t domain.Task, err error) {
	const op = "assign_task"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermStagesManage); err != nil {
		return t, unauthorized(op, err)
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return t, validation(op, "owner is required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return t, err
	}
	defer cancel()
	defer tx.Rollback()
	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, classify(op, err)
	}
	t.OwnerID = &ownerID
	t.DueDate = formatDate(due)
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, classify(op, err)
	}
	t.Version++
	if err := e.emit(ctx, tx, events.TaskAssigned, t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{
		"owner_id": ownerID, "due_date": t.DueDate,
	}); err != nil {
		return t, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return t, classify(op, err)
	}
	e.logger().Info("task assigned", "task_id", t.ID, "owner_id", ownerID, "actor_id", actor.ID)
	return t, nil
}

type SubmitOptions struct {
	TaskID   string
	FileLink string
	// IdempotencyKey makes retries return the first result instead of rescoring.
	IdempotencyKey string
}

type SubmitResult struct {
	Task     domain.Task  `json:"task"`
	Score    domain.Score `json:"score"`
	Sibling  *domain.Task `json:"sibling,omitempty"`
	Replayed bool         `json:"replayed"`
}

const submitOperation = "submit_task"

// SubmitTask hands in a deliverable, scores it against its due date and
// applies the sibling trigger table.
func (e Engine) SubmitTask(ctx context.Context, opts SubmitOptions, actor auth.Actor) (res SubmitResult, err error) {
	const op = submitOperation
	defer e.observe(op, time.Now(), &err)
	parent := ctx
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return res, err
	}
	defer cancel()
	defer tx.Rollback()

	key := strings.TrimSpace(opts.IdempotencyKey)
	if key != "" {
		stored, err := e.Repo.GetIdempotentResponseTx(ctx, tx, key, op, actor.ID)
		switch {
		case err == nil:
			if err := json.Unmarshal([]byte(stored), &res); err != nil {
				return SubmitResult{}, classify(op, fmt.Errorf("decode stored response: %w", err))
			}
			if res.Task.ID != opts.TaskID {
				return SubmitResult{}, validation(op, "idempotency key %q was used for another task", key)
			}
			res.Replayed = true
			return res, nil
		case !errors.Is(err, repo.ErrNotFound):
			return res, classify(op, err)
		}
	}

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return res, classify(op, err)
	}
	if t.OwnerID == nil || *t.OwnerID != actor.ID {
		return res, &Error{Kind: KindUnauthorized, Op: op, Msg: "only the task owner may submit"}
	}
	link := strings.TrimSpace(opts.FileLink)
	if link == "" && !e.Rules.ArtifactExempt(t.Title) {
		return res, validation(op, "file link is required for %q", t.Title)
	}

	nowT := e.now()
	now := nowT.UTC().Format(time.RFC3339)
	t.Status = domain.TaskSubmitted
	t.SubmittedAt = &now
	if link != "" {
		t.FileLink = &link
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return res, classify(op, err)
	}
	t.Version++

	sc := scoring.Compute(t.Due(), nowT)
	score := domain.Score{TaskID: t.ID, Score: sc.Score, LatenessDays: sc.LatenessDays, UpdatedAt: now}
	if err := e.Repo.UpsertScoreTx(ctx, tx, score); err != nil {
		return res, classify(op, err)
	}
	t.Score = &score
	if err := e.emit(ctx, tx, events.TaskSubmitted, t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{
		"file_link": link, "score": score.Score, "lateness_days": score.LatenessDays,
	}); err != nil {
		return res, classify(op, err)
	}
	notices := []notice{{
		channel: notify.ChannelTaskReadyForReview,
		message: fmt.Sprintf("%q submitted by %s (score %d)", t.Title, actor.ID, score.Score),
	}}

	sibling, err := e.applyTriggerTx(ctx, tx, t, actor, now)
	if err != nil {
		return res, classify(op, err)
	}
	if sibling != nil {
		notices = append(notices, notice{
			channel: notify.ChannelTaskReadyForReview,
			message: fmt.Sprintf("%q moved to review after %q", sibling.Title, t.Title),
		})
	}

	res = SubmitResult{Task: t, Score: score, Sibling: sibling}
	if key != "" {
		payload, err := json.Marshal(res)
		if err != nil {
			return SubmitResult{}, classify(op, err)
		}
		if err := e.Repo.PutIdempotentResponseTx(ctx, tx, key, op, actor.ID, string(payload), now); err != nil {
			return SubmitResult{}, classify(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return SubmitResult{}, classify(op, err)
	}
	e.Metrics.TaskTransition(string(domain.TaskSubmitted))
	e.Metrics.Score(score.Score)
	e.logger().Info("task submitted", "task_id", t.ID, "project_id", t.ProjectID, "actor_id", actor.ID,
		"score", score.Score, "lateness_days", score.LatenessDays)
	e.deliver(parent, notices)
	return res, nil
}

// applyTriggerTx moves the trigger's sibling forward if it is still open.
func (e Engine) applyTriggerTx(ctx context.Context, tx *sql.Tx, t domain.Task, actor auth.Actor, now string) (*domain.Task, error) {
	rule, ok := e.Rules.Triggers.Lookup(t.Title)
	if !ok {
		return nil, nil
	}
	sib, err := e.Repo.TaskByTitleTx(ctx, tx, t.StageID, rule.Sibling)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sib.Status != domain.TaskOpen {
		return nil, nil
	}
	sib.Status = rule.Status
	if rule.Status.AtLeastSubmitted() {
		sib.SubmittedAt = &now
	}
	sib.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, sib); err != nil {
		return nil, err
	}
	sib.Version++
	if err := e.emit(ctx, tx, events.TaskAutoSubmitted, sib.ProjectID, "task", sib.ID, actor.ID, events.EventPayload{
		"trigger_task_id": t.ID, "trigger_title": t.Title, "status": sib.Status,
	}); err != nil {
		return nil, err
	}
	e.Metrics.TaskTransition(string(sib.Status))
	return &sib, nil
}

// ReviewTask accepts a submission as done or sends it back for revision.
// A revision costs the task's score a fixed penalty.
func (e Engine) ReviewTask(ctx context.Context, taskID string, status domain.TaskStatus, notes string, actor auth.Actor) (t domain.Task, err error) {
	const op = "review_task"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermTasksReview); err != nil {
		return t, unauthorized(op, err)
	}
	if status != domain.TaskDone && status != domain.TaskRevisionRequested {
		return t, validation(op, "review status must be done or revision_requested, got %q", status)
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return t, err
	}
	defer cancel()
	defer tx.Rollback()
	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, classify(op, err)
	}
	if t.Status != domain.TaskSubmitted && t.Status != domain.TaskVerified {
		return t, invalidState(op, "task %q is %s; only submitted or verified tasks can be reviewed", t.Title, t.Status)
	}
	now := e.stamp()
	from := t.Status
	t.Status = status
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, classify(op, err)
	}
	t.Version++
	payload := events.EventPayload{"from": from, "status": status}
	if status == domain.TaskRevisionRequested && t.Score != nil {
		before := t.Score.Score
		t.Score.Score = scoring.ApplyRevisionPenalty(before)
		t.Score.UpdatedAt = now
		if err := e.Repo.UpsertScoreTx(ctx, tx, *t.Score); err != nil {
			return t, classify(op, err)
		}
		payload["score_before"] = before
		payload["score"] = t.Score.Score
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		c := domain.Comment{ID: uuid.NewString(), TaskID: t.ID, AuthorID: actor.ID, Text: notes, CreatedAt: now}
		if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
			return t, classify(op, err)
		}
		payload["comment_id"] = c.ID
	}
	if err := e.emit(ctx, tx, events.TaskReviewed, t.ProjectID, "task", t.ID, actor.ID, payload); err != nil {
		return t, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return t, classify(op, err)
	}
	e.Metrics.TaskTransition(string(status))
	e.logger().Info("task reviewed", "task_id", t.ID, "status", string(status), "actor_id", actor.ID)
	return t, nil
}

// VerifyTask records document control's verification of a submission.
func (e Engine) VerifyTask(ctx context.Context, taskID string, actor auth.Actor) (domain.Task, error) {
	return e.verify(ctx, "verify_task", auth.PermTasksVerify, taskID, "", actor)
}

// SignOffTask is the technical engineer's verification, with notes.
func (e Engine) SignOffTask(ctx context.Context, taskID, notes string, actor auth.Actor) (domain.Task, error) {
	return e.verify(ctx, "sign_off_task", auth.PermTasksSignoff, taskID, notes, actor)
}

func (e Engine) verify(ctx context.Context, op, perm, taskID, notes string, actor auth.Actor) (t domain.Task, err error) {
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(perm); err != nil {
		return t, unauthorized(op, err)
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return t, err
	}
	defer cancel()
	defer tx.Rollback()
	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, classify(op, err)
	}
	if t.Status != domain.TaskSubmitted {
		return t, invalidState(op, "task %q is %s, not submitted", t.Title, t.Status)
	}
	now := e.stamp()
	t.Status = domain.TaskVerified
	t.UpdatedAt = now
	evt := events.TaskVerified
	payload := events.EventPayload{}
	if perm == auth.PermTasksSignoff {
		t.SignedOffBy = &actor.ID
		t.SignedOffAt = &now
		if notes = strings.TrimSpace(notes); notes != "" {
			t.SignOffNotes = &notes
		}
		evt = events.TaskSignedOff
		payload["notes"] = notes
	} else {
		t.VerifiedBy = &actor.ID
		t.VerifiedAt = &now
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, classify(op, err)
	}
	t.Version++
	if err := e.emit(ctx, tx, evt, t.ProjectID, "task", t.ID, actor.ID, payload); err != nil {
		return t, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return t, classify(op, err)
	}
	e.Metrics.TaskTransition(string(domain.TaskVerified))
	e.logger().Info("task verified", "task_id", t.ID, "op", op, "actor_id", actor.ID)
	return t, nil
}

func (e Engine) AddComment(ctx context.Context, taskID, text string, actor auth.Actor) (c domain.Comment, err error) {
	const op = "add_comment"
	defer e.observe(op, time.Now(), &err)
	text = strings.TrimSpace(text)
	if text == "" {
		return c, validation(op, "comment text is required")
	}
	if actor.ID == "" {
		return c, validation(op, "actor is required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return c, err
	}
	defer cancel()
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return c, classify(op, err)
	}
	c = domain.Comment{ID: uuid.NewString(), TaskID: t.ID, AuthorID: actor.ID, Text: text, CreatedAt: e.stamp()}
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.TaskCommented, t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return domain.Comment{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, classify(op, err)
	}
	return c, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, classify("get_task", err)
	}
	return t, nil
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	for _, s := range f.Status {
		if _, err := domain.ParseTaskStatus(s); err != nil {
			return nil, validation("list_tasks", "%v", err)
		}
	}
	ctx, cancel := e.read(ctx)
	defer cancel()
	ts, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, classify("list_tasks", err)
	}
	return ts, nil
}

// MyTasks lists the owner's tasks that still need work, soonest due first.
func (e Engine) MyTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if ownerID == "" {
		return nil, validation("my_tasks", "owner is required")
	}
	return e.ListTasks(ctx, repo.TaskFilters{
		OwnerID: ownerID,
		Status:  []string{string(domain.TaskOpen), string(domain.TaskRevisionRequested)},
	})
}

func (e Engine) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, classify("list_comments", err)
	}
	cs, err := e.Repo.ListComments(ctx, taskID)
	if err != nil {
		return nil, classify("list_comments", err)
	}
	return cs, nil
}

func formatDate(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(domain.DateLayout)
	return &s
}
