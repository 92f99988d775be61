// Package approval holds the pure rules of the three-slot requisition chain.
//
// Writes to a slot are unconditional. Ordering only shapes what each viewer is
// shown as pending, unless a caller opts into CheckOrder on the write path.
package approval

import (
	"errors"
	"fmt"

	"gateline/internal/domain"
)

var ErrOutOfOrder = errors.New("approval out of order")

// Viewer describes which slots the caller may decide.
type Viewer struct {
	Requisition bool
	PM          bool
	QS          bool
}

type PendingItem struct {
	Requisition domain.Requisition  `json:"requisition"`
	PendingFor  domain.ApprovalSlot `json:"pending_for"`
	Actionable  bool                `json:"actionable"`
}

// Pending lists the requisitions awaiting a decision the viewer can make.
// Visibility depends on the slots alone, so an out-of-order rejection in one
// slot does not hide the others. PM items require the requisition-level slot
// to be approved. QS items carry the same requirement and are actionable only
// once PM has approved. A requisition already listed for PM is not listed
// again for QS. Drafts are never listed.
func Pending(reqs []domain.Requisition, v Viewer) []PendingItem {
	var out []PendingItem
	for _, r := range reqs {
		if r.Status == domain.RequisitionDraft {
			continue
		}
		if v.Requisition && r.RequisitionApproval == domain.DecisionPending {
			out = append(out, PendingItem{Requisition: r, PendingFor: domain.SlotRequisition, Actionable: true})
		}
		listedPM := false
		if v.PM && r.PMApproval == domain.DecisionPending && r.RequisitionApproval == domain.DecisionApproved {
			out = append(out, PendingItem{Requisition: r, PendingFor: domain.SlotPM, Actionable: true})
			listedPM = true
		}
		if v.QS && !listedPM && r.QSApproval == domain.DecisionPending && r.RequisitionApproval == domain.DecisionApproved {
			out = append(out, PendingItem{
				Requisition: r,
				PendingFor:  domain.SlotQS,
				Actionable:  r.PMApproval == domain.DecisionApproved,
			})
		}
	}
	return out
}

// CheckOrder rejects a decision whose preceding slot is not yet approved.
func CheckOrder(r domain.Requisition, slot domain.ApprovalSlot) error {
	switch slot {
	case domain.SlotPM:
		if r.RequisitionApproval != domain.DecisionApproved {
			return fmt.Errorf("%w: pm decision needs requisition-level approval", ErrOutOfOrder)
		}
	case domain.SlotQS:
		if r.PMApproval != domain.DecisionApproved {
			return fmt.Errorf("%w: qs decision needs pm approval", ErrOutOfOrder)
		}
	}
	return nil
}

// Apply writes a decision into the slot and recomputes the overall status.
func Apply(r domain.Requisition, slot domain.ApprovalSlot, d domain.ApprovalDecision) domain.Requisition {
	switch slot {
	case domain.SlotRequisition:
		r.RequisitionApproval = d
	case domain.SlotPM:
		r.PMApproval = d
	case domain.SlotQS:
		r.QSApproval = d
	}
	r.Status = Overall(r)
	return r
}

// Overall derives the requisition status from its slots. Draft and delivery
// states are left untouched.
func Overall(r domain.Requisition) domain.RequisitionStatus {
	switch r.Status {
	case domain.RequisitionPending, domain.RequisitionApproved, domain.RequisitionRejected:
	default:
		return r.Status
	}
	slots := []domain.ApprovalDecision{r.RequisitionApproval, r.PMApproval, r.QSApproval}
	approved := 0
	for _, d := range slots {
		switch d {
		case domain.DecisionRejected:
			return domain.RequisitionRejected
		case domain.DecisionApproved:
			approved++
		}
	}
	if approved == len(slots) {
		return domain.RequisitionApproved
	}
	return domain.RequisitionPending
}
