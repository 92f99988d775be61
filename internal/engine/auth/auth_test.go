package auth_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateline/internal/config"
	"gateline/internal/engine/auth"
)

func TestFromRolesExpandsConfiguredRoles(t *testing.T) {
	caps := auth.FromRoles(config.Default(), []string{"quantity_surveyor", "missing"}, []string{"custom.tag"})
	assert.True(t, caps.Has(auth.PermApproveQS))
	assert.True(t, caps.Has(auth.PermStagesQSValidate))
	assert.True(t, caps.Has("custom.tag"))
	assert.False(t, caps.Has(auth.PermApprovePM))
}

func TestRequire(t *testing.T) {
	a := auth.Actor{ID: "dc", Capabilities: auth.NewCapabilities(auth.PermTasksVerify)}
	require.NoError(t, a.Require(auth.PermTasksVerify))

	err := a.Require(auth.PermTasksReview)
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, auth.PermTasksReview, fe.Permission)

	assert.NoError(t, a.RequireAny(auth.PermAdmin, auth.PermTasksVerify))
	assert.EqualError(t, a.RequireAny(auth.PermApproveRequisition, auth.PermAdmin), "permission requisitions.approve.requisition|admin required")
}

func TestCapabilitiesList(t *testing.T) {
	caps := auth.NewCapabilities("b", " a ", "", "b")
	assert.Equal(t, []string{"a", "b"}, caps.List())
}
