// Package gate decides whether a stage may be completed.
package gate

import (
	"fmt"
	"strings"

	"gateline/internal/domain"
)

const DefaultRequiredSignoffs = 3

// Snapshot is everything a gate may inspect for one stage.
type Snapshot struct {
	Tasks       []domain.Task
	SiteVisit   *domain.SiteVisitLog
	Measurement *domain.MeasurementRequisition
	QS          *domain.QSValidation
	Signoffs    []domain.DisciplineSignoff
	Handover    domain.Handover
}

type Result struct {
	Passed bool     `json:"passed"`
	Unmet  []string `json:"unmet,omitempty"`
}

type Evaluator struct {
	// RequiredSignoffs is the technical review threshold; zero means the default.
	RequiredSignoffs int
	// DistinctDisciplines counts one signoff per discipline instead of every row.
	DistinctDisciplines bool
}

func (e Evaluator) Evaluate(stageType domain.StageType, snap Snapshot) Result {
	var unmet []string
	switch stageType {
	case domain.StageSiteVisit:
		unmet = siteVisit(snap.SiteVisit)
	case domain.StageMeasurement:
		unmet = measurement(snap.Measurement)
	case domain.StageQSHandover:
		unmet = qsHandover(snap.QS)
	case domain.StageTechnicalReview:
		unmet = e.technicalReview(snap.Signoffs)
	case domain.StageExecutionHandover:
		unmet = handover(snap.Handover)
	default:
		unmet = tasksSubmitted(snap.Tasks)
	}
	return Result{Passed: len(unmet) == 0, Unmet: unmet}
}

func tasksSubmitted(tasks []domain.Task) []string {
	var unmet []string
	for _, t := range tasks {
		if !t.Status.AtLeastSubmitted() {
			unmet = append(unmet, fmt.Sprintf("task %q is %s", t.Title, t.Status))
		}
	}
	return unmet
}

func siteVisit(log *domain.SiteVisitLog) []string {
	if log == nil {
		return []string{"site visit log missing"}
	}
	var unmet []string
	if log.MeetingHeldAt == nil || *log.MeetingHeldAt == "" {
		unmet = append(unmet, "meeting timestamp missing")
	}
	if blank(log.MinutesLink) {
		unmet = append(unmet, "minutes link missing")
	}
	if blank(log.PhotosLink) {
		unmet = append(unmet, "photos link missing")
	}
	if blank(log.UpdatedBriefLink) {
		unmet = append(unmet, "updated brief link missing")
	}
	return unmet
}

func measurement(req *domain.MeasurementRequisition) []string {
	if req == nil {
		return []string{"measurement requisition missing"}
	}
	var unmet []string
	if req.Status != domain.MeasurementApproved {
		unmet = append(unmet, fmt.Sprintf("measurement requisition is %s, not approved", req.Status))
	}
	if blank(req.PackageLink) {
		unmet = append(unmet, "measurement package link missing")
	}
	return unmet
}

func qsHandover(v *domain.QSValidation) []string {
	if v == nil {
		return []string{"QS validation missing"}
	}
	var unmet []string
	if blank(v.CostEstimationSheetLink) {
		unmet = append(unmet, "cost estimation sheet link missing")
	}
	if blank(v.ValidatedBOQLink) {
		unmet = append(unmet, "validated BOQ link missing")
	}
	return unmet
}

func (e Evaluator) technicalReview(signoffs []domain.DisciplineSignoff) []string {
	required := e.RequiredSignoffs
	if required <= 0 {
		required = DefaultRequiredSignoffs
	}
	count := len(signoffs)
	noun := "signoffs"
	if e.DistinctDisciplines {
		seen := map[string]struct{}{}
		for _, s := range signoffs {
			seen[strings.ToLower(strings.TrimSpace(s.Discipline))] = struct{}{}
		}
		count = len(seen)
		noun = "distinct discipline signoffs"
	}
	if count >= required {
		return nil
	}
	return []string{fmt.Sprintf("%d of %d %s recorded", count, required, noun)}
}

func handover(h domain.Handover) []string {
	var unmet []string
	if h.DesignSignedBy == nil || h.DesignSignedAt == nil {
		unmet = append(unmet, "design handover signature missing")
	}
	if h.OperationsSignedBy == nil || h.OperationsSignedAt == nil {
		unmet = append(unmet, "operations handover signature missing")
	}
	return unmet
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
