package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateline/internal/approval"
	"gateline/internal/domain"
	"gateline/internal/engine/auth"
	"gateline/internal/events"
	"gateline/internal/notify"
	"gateline/internal/repo"
)

type RequisitionCreateOptions struct {
	ProjectID    string
	Number       string
	MaterialType string
	Urgency      string
	RequiredBy   *time.Time
	// Draft keeps the requisition out of the approval chain until submitted.
	Draft bool
}

func (e Engine) CreateRequisition(ctx context.Context, opts RequisitionCreateOptions, actor auth.Actor) (q domain.Requisition, err error) {
	const op = "create_requisition"
	defer e.observe(op, time.Now(), &err)
	opts.Number = strings.TrimSpace(opts.Number)
	opts.MaterialType = strings.TrimSpace(opts.MaterialType)
	switch {
	case actor.ID == "":
		return q, validation(op, "actor is required")
	case opts.Number == "":
		return q, validation(op, "number is required")
	case opts.MaterialType == "":
		return q, validation(op, "material type is required")
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return q, err
	}
	defer cancel()
	defer tx.Rollback()
	var projectID *string
	if id := strings.TrimSpace(opts.ProjectID); id != "" {
		if _, err := e.Repo.GetProjectTx(ctx, tx, id); err != nil {
			return q, classify(op, err)
		}
		projectID = &id
	}
	now := e.stamp()
	q = domain.Requisition{
		ID:                  uuid.NewString(),
		ProjectID:           projectID,
		Number:              opts.Number,
		MaterialType:        opts.MaterialType,
		Urgency:             strings.TrimSpace(opts.Urgency),
		RequiredBy:          formatDate(opts.RequiredBy),
		RequisitionApproval: domain.DecisionPending,
		PMApproval:          domain.DecisionPending,
		QSApproval:          domain.DecisionPending,
		Status:              domain.RequisitionPending,
		RequestedBy:         actor.ID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if opts.Draft {
		q.Status = domain.RequisitionDraft
	}
	if err := e.Repo.InsertRequisitionTx(ctx, tx, q); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Requisition{}, invalidState(op, "requisition %s already exists", q.Number)
		}
		return domain.Requisition{}, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.RequisitionCreated, deref(projectID), "requisition", q.ID, actor.ID, events.EventPayload{
		"number": q.Number, "material_type": q.MaterialType, "status": q.Status,
	}); err != nil {
		return domain.Requisition{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Requisition{}, classify(op, err)
	}
	return q, nil
}

// SubmitRequisition moves a draft into the approval chain.
func (e Engine) SubmitRequisition(ctx context.Context, id string, actor auth.Actor) (q domain.Requisition, err error) {
	const op = "submit_requisition"
	defer e.observe(op, time.Now(), &err)
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return q, err
	}
	defer cancel()
	defer tx.Rollback()
	q, version, err := e.Repo.GetRequisitionTx(ctx, tx, id)
	if err != nil {
		return q, classify(op, err)
	}
	if q.RequestedBy != actor.ID && !actor.Capabilities.Has(auth.PermAdmin) {
		return q, &Error{Kind: KindUnauthorized, Op: op, Msg: "only the requester may submit"}
	}
	if q.Status != domain.RequisitionDraft {
		return q, invalidState(op, "requisition %s is %s, not draft", q.Number, q.Status)
	}
	q.Status = domain.RequisitionPending
	q.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRequisitionTx(ctx, tx, q, version); err != nil {
		return q, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.RequisitionSubmitted, deref(q.ProjectID), "requisition", q.ID, actor.ID, nil); err != nil {
		return q, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return q, classify(op, err)
	}
	return q, nil
}

var slotPermissions = map[domain.ApprovalSlot][]string{
	domain.SlotRequisition: {auth.PermApproveRequisition, auth.PermAdmin},
	domain.SlotPM:          {auth.PermApprovePM},
	domain.SlotQS:          {auth.PermApproveQS},
}

// SetApproval records a decision in one approval slot and recomputes the
// requisition's overall status. The write ignores slot order unless
// approvals.enforce_order is set.
func (e Engine) SetApproval(ctx context.Context, id string, slot domain.ApprovalSlot, decision domain.ApprovalDecision, actor auth.Actor) (q domain.Requisition, err error) {
	const op = "set_approval"
	defer e.observe(op, time.Now(), &err)
	perms, ok := slotPermissions[slot]
	if !ok {
		return q, validation(op, "unknown approval slot %q", slot)
	}
	if err := actor.RequireAny(perms...); err != nil {
		return q, unauthorized(op, err)
	}
	if decision != domain.DecisionApproved && decision != domain.DecisionRejected {
		return q, validation(op, "decision must be approved or rejected, got %q", decision)
	}
	parent := ctx
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return q, err
	}
	defer cancel()
	defer tx.Rollback()
	q, version, err := e.Repo.GetRequisitionTx(ctx, tx, id)
	if err != nil {
		return q, classify(op, err)
	}
	if q.Status == domain.RequisitionDraft {
		return q, invalidState(op, "requisition %s is still a draft", q.Number)
	}
	if e.Config.Approvals.EnforceOrder {
		if err := approval.CheckOrder(q, slot); err != nil {
			return q, invalidState(op, "%v", err)
		}
	}
	prev := q.Status
	q = approval.Apply(q, slot, decision)
	q.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRequisitionTx(ctx, tx, q, version); err != nil {
		return q, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.RequisitionDecided, deref(q.ProjectID), "requisition", q.ID, actor.ID, events.EventPayload{
		"slot": slot, "decision": decision, "from": prev, "status": q.Status,
	}); err != nil {
		return q, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return q, classify(op, err)
	}
	e.Metrics.ApprovalDecision(string(slot), string(decision))
	e.logger().Info("approval recorded", "requisition_id", q.ID, "slot", string(slot), "decision", string(decision),
		"status", string(q.Status), "actor_id", actor.ID)
	if decision == domain.DecisionApproved {
		e.deliver(parent, []notice{{
			channel: notify.ChannelApprovalAdvanced,
			message: fmt.Sprintf("Requisition %s: %s approved by %s (overall %s)", q.Number, slot, actor.ID, q.Status),
		}})
	}
	return q, nil
}

// RecordDelivery marks an approved requisition partially or fully delivered.
func (e Engine) RecordDelivery(ctx context.Context, id string, partial bool, actor auth.Actor) (q domain.Requisition, err error) {
	const op = "record_delivery"
	defer e.observe(op, time.Now(), &err)
	if err := actor.Require(auth.PermRequisitionsReceive); err != nil {
		return q, unauthorized(op, err)
	}
	ctx, tx, cancel, err := e.begin(ctx, op)
	if err != nil {
		return q, err
	}
	defer cancel()
	defer tx.Rollback()
	q, version, err := e.Repo.GetRequisitionTx(ctx, tx, id)
	if err != nil {
		return q, classify(op, err)
	}
	if q.Status != domain.RequisitionApproved && q.Status != domain.RequisitionPartiallyDelivered {
		return q, invalidState(op, "requisition %s is %s; deliveries need an approved requisition", q.Number, q.Status)
	}
	q.Status = domain.RequisitionDelivered
	if partial {
		q.Status = domain.RequisitionPartiallyDelivered
	}
	q.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRequisitionTx(ctx, tx, q, version); err != nil {
		return q, classify(op, err)
	}
	if err := e.emit(ctx, tx, events.RequisitionDelivered, deref(q.ProjectID), "requisition", q.ID, actor.ID, events.EventPayload{"status": q.Status}); err != nil {
		return q, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return q, classify(op, err)
	}
	return q, nil
}

// PendingApprovals lists what the actor can decide, using the soft-order filter
// on the approval slots.
func (e Engine) PendingApprovals(ctx context.Context, actor auth.Actor) ([]approval.PendingItem, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	reqs, err := e.Repo.ListRequisitions(ctx, repo.RequisitionFilters{})
	if err != nil {
		return nil, classify("pending_approvals", err)
	}
	v := approval.Viewer{
		Requisition: actor.Capabilities.Has(auth.PermApproveRequisition) || actor.Capabilities.Has(auth.PermAdmin),
		PM:          actor.Capabilities.Has(auth.PermApprovePM),
		QS:          actor.Capabilities.Has(auth.PermApproveQS),
	}
	return approval.Pending(reqs, v), nil
}

func (e Engine) GetRequisition(ctx context.Context, id string) (domain.Requisition, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	q, err := e.Repo.GetRequisition(ctx, id)
	if err != nil {
		return q, classify("get_requisition", err)
	}
	return q, nil
}

func (e Engine) ListRequisitions(ctx context.Context, f repo.RequisitionFilters) ([]domain.Requisition, error) {
	ctx, cancel := e.read(ctx)
	defer cancel()
	qs, err := e.Repo.ListRequisitions(ctx, f)
	if err != nil {
		return nil, classify("list_requisitions", err)
	}
	return qs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
