package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "site_visit", cfg.Workflow.FirstActionable)
	assert.Equal(t, 3, cfg.Gates.TechnicalReview.RequiredSignoffs)
	assert.False(t, cfg.Gates.TechnicalReview.DistinctDisciplines)
	assert.False(t, cfg.Approvals.EnforceOrder)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout())
	assert.Contains(t, cfg.Workflow.Templates["final_delivery"], "Ready for QA")
	assert.Contains(t, cfg.RBAC.Roles["admin"].Permissions, "handover.operations")
	assert.Contains(t, cfg.RBAC.Roles["design_manager"].Permissions, "dashboard.view")
	assert.Equal(t, 30, cfg.Dashboard.WindowDays)
	assert.Equal(t, []string{"lead_designer", "technical_engineer", "document_controller"}, cfg.Dashboard.TeamRoles)
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := config.FromYAML([]byte("workflow:\n  first_actionable: finance_confirmation\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Gates.TechnicalReview.RequiredSignoffs)
	assert.Equal(t, 5, cfg.Store.TimeoutSeconds)
	assert.Equal(t, "gateline", cfg.Notifications.NATSSubjectPrefix)
	assert.Equal(t, 30, cfg.Dashboard.WindowDays)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"unknown stage":    "workflow:\n  first_actionable: moon_landing\n",
		"unknown template": "workflow:\n  first_actionable: site_visit\n  templates:\n    nope: [a]\n",
		"self trigger":     "workflow:\n  first_actionable: site_visit\n  triggers:\n    - {when: a, sibling: a, status: submitted}\n",
		"zero window":      "workflow:\n  first_actionable: site_visit\ndashboard:\n  window_days: 0\n",
		"trigger to done":  "workflow:\n  first_actionable: site_visit\n  triggers:\n    - {when: a, sibling: b, status: done}\n",
		"zero signoffs":    "workflow:\n  first_actionable: site_visit\ngates:\n  technical_review:\n    required_signoffs: 0\n",
		"duplicate title":  "workflow:\n  first_actionable: site_visit\n  templates:\n    initial_design: [a, a]\n",
		"empty permission": "workflow:\n  first_actionable: site_visit\nrbac:\n  roles:\n    r:\n      permissions: [\"\"]\n",
		"malformed yaml":   "workflow: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestRoundTripThroughFile(t *testing.T) {
	dir := t.TempDir()
	data, err := config.Default().Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), data, 0o644))

	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, config.Default().Workflow.Triggers, cfg.Workflow.Triggers)

	missing, err := config.LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
