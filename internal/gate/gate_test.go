package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateline/internal/domain"
	"gateline/internal/gate"
)

func strp(s string) *string { return &s }

func TestTaskCompletionGateNamesEveryOpenTask(t *testing.T) {
	snap := gate.Snapshot{Tasks: []domain.Task{
		{Title: "2D Layout", Status: domain.TaskSubmitted},
		{Title: "SketchUp Model", Status: domain.TaskOpen},
		{Title: "Render Set v1", Status: domain.TaskRevisionRequested},
		{Title: "Preliminary BOQ", Status: domain.TaskDone},
	}}
	res := gate.Evaluator{}.Evaluate(domain.StageInitialDesign, snap)
	require.False(t, res.Passed)
	require.Len(t, res.Unmet, 2)
	assert.Contains(t, res.Unmet[0], "SketchUp Model")
	assert.Contains(t, res.Unmet[1], "Render Set v1")
}

func TestTaskCompletionGatePassesWithNoTasks(t *testing.T) {
	res := gate.Evaluator{}.Evaluate(domain.StageFinanceConfirmation, gate.Snapshot{})
	assert.True(t, res.Passed)
	assert.Empty(t, res.Unmet)
}

func TestSiteVisitGate(t *testing.T) {
	ev := gate.Evaluator{}
	res := ev.Evaluate(domain.StageSiteVisit, gate.Snapshot{})
	assert.Equal(t, []string{"site visit log missing"}, res.Unmet)

	partial := &domain.SiteVisitLog{MeetingHeldAt: strp("2025-01-01T10:00:00Z"), MinutesLink: "m"}
	res = ev.Evaluate(domain.StageSiteVisit, gate.Snapshot{SiteVisit: partial})
	assert.Equal(t, []string{"photos link missing", "updated brief link missing"}, res.Unmet)

	full := &domain.SiteVisitLog{MeetingHeldAt: strp("2025-01-01T10:00:00Z"), MinutesLink: "m", PhotosLink: "p", UpdatedBriefLink: "b"}
	assert.True(t, ev.Evaluate(domain.StageSiteVisit, gate.Snapshot{SiteVisit: full}).Passed)
}

func TestMeasurementGate(t *testing.T) {
	ev := gate.Evaluator{}
	pending := &domain.MeasurementRequisition{Status: domain.MeasurementPendingUpload}
	res := ev.Evaluate(domain.StageMeasurement, gate.Snapshot{Measurement: pending})
	assert.Len(t, res.Unmet, 2)

	approved := &domain.MeasurementRequisition{Status: domain.MeasurementApproved, PackageLink: "https://files/pkg"}
	assert.True(t, ev.Evaluate(domain.StageMeasurement, gate.Snapshot{Measurement: approved}).Passed)
}

func TestQSHandoverGate(t *testing.T) {
	ev := gate.Evaluator{}
	res := ev.Evaluate(domain.StageQSHandover, gate.Snapshot{QS: &domain.QSValidation{CostEstimationSheetLink: "c"}})
	assert.Equal(t, []string{"validated BOQ link missing"}, res.Unmet)
	ok := &domain.QSValidation{CostEstimationSheetLink: "c", ValidatedBOQLink: "b"}
	assert.True(t, ev.Evaluate(domain.StageQSHandover, gate.Snapshot{QS: ok}).Passed)
}

func TestTechnicalReviewCountsRowsByDefault(t *testing.T) {
	dup := []domain.DisciplineSignoff{
		{Discipline: "MEP"}, {Discipline: "MEP"}, {Discipline: "MEP"},
	}
	res := gate.Evaluator{}.Evaluate(domain.StageTechnicalReview, gate.Snapshot{Signoffs: dup})
	assert.True(t, res.Passed)

	res = gate.Evaluator{DistinctDisciplines: true}.Evaluate(domain.StageTechnicalReview, gate.Snapshot{Signoffs: dup})
	require.False(t, res.Passed)
	assert.Equal(t, []string{"1 of 3 distinct discipline signoffs recorded"}, res.Unmet)
}

func TestTechnicalReviewThreshold(t *testing.T) {
	two := []domain.DisciplineSignoff{{Discipline: "MEP"}, {Discipline: "Civil"}}
	res := gate.Evaluator{}.Evaluate(domain.StageTechnicalReview, gate.Snapshot{Signoffs: two})
	assert.Equal(t, []string{"2 of 3 signoffs recorded"}, res.Unmet)
	assert.True(t, gate.Evaluator{RequiredSignoffs: 2}.Evaluate(domain.StageTechnicalReview, gate.Snapshot{Signoffs: two}).Passed)
}

func TestExecutionHandoverGate(t *testing.T) {
	ev := gate.Evaluator{}
	h := domain.Handover{DesignSignedBy: strp("dm"), DesignSignedAt: strp("2025-01-01T00:00:00Z")}
	res := ev.Evaluate(domain.StageExecutionHandover, gate.Snapshot{Handover: h})
	assert.Equal(t, []string{"operations handover signature missing"}, res.Unmet)

	h.OperationsSignedBy = strp("ops")
	h.OperationsSignedAt = strp("2025-01-02T00:00:00Z")
	assert.True(t, ev.Evaluate(domain.StageExecutionHandover, gate.Snapshot{Handover: h}).Passed)
}
