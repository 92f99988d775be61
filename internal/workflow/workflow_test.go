package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateline/internal/config"
	"gateline/internal/domain"
	"gateline/internal/workflow"
)

func defaultRules(t *testing.T) workflow.Rules {
	t.Helper()
	r, err := workflow.FromConfig(config.Default())
	require.NoError(t, err)
	return r
}

func TestTriggerTable(t *testing.T) {
	r := defaultRules(t)
	rule, ok := r.Triggers.Lookup("Ready for QA")
	require.True(t, ok)
	assert.Equal(t, workflow.TriggerRule{Sibling: "DM QA Review", Status: domain.TaskSubmitted}, rule)

	rule, ok = r.Triggers.Lookup("Technical Drawings")
	require.True(t, ok)
	assert.Equal(t, "Engineer Sign-off", rule.Sibling)

	_, ok = r.Triggers.Lookup("2D Layout")
	assert.False(t, ok)
}

func TestTemplatesAndExempt(t *testing.T) {
	r := defaultRules(t)
	assert.Equal(t, []string{"2D Layout", "SketchUp Model", "Render Set v1", "Preliminary BOQ"}, r.Template(domain.StageInitialDesign))
	assert.Empty(t, r.Template(domain.StageSiteVisit))
	assert.True(t, r.ArtifactExempt("Ready for QA"))
	assert.False(t, r.ArtifactExempt("DM QA Review"))
}

func TestInitialStatus(t *testing.T) {
	r := defaultRules(t)
	in := 0
	for _, st := range domain.StageCatalog() {
		if r.InitialStatus(st) == domain.StageInProgress {
			in++
			assert.Equal(t, domain.StageSiteVisit, st)
		}
	}
	assert.Equal(t, 1, in)
}
