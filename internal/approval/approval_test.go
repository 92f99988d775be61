package approval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateline/internal/approval"
	"gateline/internal/domain"
)

func req(id string, rl, pm, qs domain.ApprovalDecision) domain.Requisition {
	r := domain.Requisition{ID: id, RequisitionApproval: rl, PMApproval: pm, QSApproval: qs, Status: domain.RequisitionPending}
	return r
}

const (
	p = domain.DecisionPending
	a = domain.DecisionApproved
	x = domain.DecisionRejected
)

func TestPMNeverSeesRequisitionLevelPending(t *testing.T) {
	items := approval.Pending([]domain.Requisition{req("r1", p, p, p)}, approval.Viewer{PM: true})
	assert.Empty(t, items)
}

func TestPMSeesItemOnceRequisitionApproved(t *testing.T) {
	items := approval.Pending([]domain.Requisition{req("r1", a, p, p)}, approval.Viewer{PM: true})
	require.Len(t, items, 1)
	assert.Equal(t, domain.SlotPM, items[0].PendingFor)
	assert.True(t, items[0].Actionable)
}

func TestQSVisibilityAndActionability(t *testing.T) {
	reqs := []domain.Requisition{
		req("hidden", p, p, p),
		req("waiting", a, p, p),
		req("ready", a, a, p),
	}
	items := approval.Pending(reqs, approval.Viewer{QS: true})
	require.Len(t, items, 2)
	assert.Equal(t, "waiting", items[0].Requisition.ID)
	assert.False(t, items[0].Actionable)
	assert.Equal(t, "ready", items[1].Requisition.ID)
	assert.True(t, items[1].Actionable)
}

func TestItemListedForPMIsNotRepeatedForQS(t *testing.T) {
	items := approval.Pending([]domain.Requisition{req("r1", a, p, p)}, approval.Viewer{PM: true, QS: true})
	require.Len(t, items, 1)
	assert.Equal(t, domain.SlotPM, items[0].PendingFor)
}

func TestPendingSkipsDraftsAndDecidedSlots(t *testing.T) {
	draft := req("d", p, p, p)
	draft.Status = domain.RequisitionDraft
	rejected := req("x", x, p, p)
	rejected.Status = domain.RequisitionRejected
	items := approval.Pending([]domain.Requisition{draft, rejected}, approval.Viewer{Requisition: true, PM: true, QS: true})
	assert.Empty(t, items)
}

func TestEarlyQSRejectionKeepsPMItemVisible(t *testing.T) {
	r := req("r1", p, p, p)
	r = approval.Apply(r, domain.SlotQS, x)
	r = approval.Apply(r, domain.SlotRequisition, a)
	require.Equal(t, domain.RequisitionRejected, r.Status)

	items := approval.Pending([]domain.Requisition{r}, approval.Viewer{PM: true})
	require.Len(t, items, 1)
	assert.Equal(t, domain.SlotPM, items[0].PendingFor)
	assert.True(t, items[0].Actionable)

	assert.Empty(t, approval.Pending([]domain.Requisition{r}, approval.Viewer{QS: true}))
}

func TestCheckOrder(t *testing.T) {
	assert.NoError(t, approval.CheckOrder(req("r", p, p, p), domain.SlotRequisition))
	assert.ErrorIs(t, approval.CheckOrder(req("r", p, p, p), domain.SlotPM), approval.ErrOutOfOrder)
	assert.NoError(t, approval.CheckOrder(req("r", a, p, p), domain.SlotPM))
	assert.ErrorIs(t, approval.CheckOrder(req("r", a, p, p), domain.SlotQS), approval.ErrOutOfOrder)
}

func TestApplyRecomputesOverall(t *testing.T) {
	r := req("r", p, p, p)
	r = approval.Apply(r, domain.SlotQS, a)
	assert.Equal(t, domain.RequisitionPending, r.Status)
	r = approval.Apply(r, domain.SlotRequisition, a)
	r = approval.Apply(r, domain.SlotPM, a)
	assert.Equal(t, domain.RequisitionApproved, r.Status)
	r = approval.Apply(r, domain.SlotPM, x)
	assert.Equal(t, domain.RequisitionRejected, r.Status)
	r = approval.Apply(r, domain.SlotPM, a)
	assert.Equal(t, domain.RequisitionApproved, r.Status)
}

func TestApplyLeavesDeliveryStatesAlone(t *testing.T) {
	r := req("r", a, a, a)
	r.Status = domain.RequisitionPartiallyDelivered
	r = approval.Apply(r, domain.SlotQS, x)
	assert.Equal(t, domain.RequisitionPartiallyDelivered, r.Status)
}
