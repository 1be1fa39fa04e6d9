package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/internal/registry"
	"github.com/conveyorhq/conveyor/internal/template"
)

func TestLoad(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, Load(r))

	assert.Equal(t, []string{
		"db-bootstrap",
		"frontmatter-validate",
		"security-scan",
		"site-deploy",
		"site-quality",
		"terraform-apply",
		"terraform-plan",
		"terraform-rds",
	}, r.Names())
}

func TestBuiltinContracts(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, Load(r))

	rev, ok := r.Head("terraform-rds")
	require.True(t, ok)

	rds := rev.Template
	spec, ok := rds.Input("run_apply")
	require.True(t, ok)
	assert.Equal(t, template.TypeBoolean, spec.Type)
	require.NotNil(t, spec.Default)
	assert.Equal(t, "false", *spec.Default)

	require.NotNil(t, rds.Lock)
	assert.Equal(t, "run_apply", rds.Lock.MutatingIf)
	require.NotNil(t, rds.AssumeRole)
	assert.Equal(t, "AWS_ROLE_ARN", rds.AssumeRole.RoleSecret)

	rev, ok = r.Head("terraform-apply")
	require.True(t, ok)
	require.NotNil(t, rev.Template.Lock)
	assert.True(t, rev.Template.Lock.Mutating)

	rev, ok = r.Head("db-bootstrap")
	require.True(t, ok)
	secret, ok := rev.Template.Secret("DB_PASSWORD")
	require.True(t, ok)
	assert.True(t, secret.Required)
}
