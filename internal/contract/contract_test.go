package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/internal/template"
)

func strptr(s string) *string { return &s }

func bootstrapTemplate() *template.Template {
	return &template.Template{
		Name: "db-bootstrap",
		Inputs: []template.InputSpec{
			{Name: "db_endpoint", Type: template.TypeString, Required: true},
			{Name: "db_name", Type: template.TypeString, Required: true},
			{Name: "db_user", Type: template.TypeString, Required: true},
			{Name: "sql_paths", Type: template.TypeString, Required: true},
			{Name: "ssl", Type: template.TypeBoolean, Default: strptr("true")},
			{Name: "port", Type: template.TypeNumber, Default: strptr("5432")},
		},
		Secrets: []template.SecretSpec{
			{Name: "DB_PASSWORD", Required: true},
		},
		Steps: []template.Step{
			{Name: "apply", Run: []string{"psql"}},
		},
	}
}

func TestValidate(t *testing.T) {
	tmpl := bootstrapTemplate()

	inputs := map[string]string{
		"db_endpoint": "db.internal:5432",
		"db_name":     "app",
		"db_user":     "deployer",
		"sql_paths":   "schema.sql,seed.sql",
	}
	secrets := map[string]string{"DB_PASSWORD": "s3cret"}

	bindings, err := Validate(tmpl, inputs, secrets)
	require.NoError(t, err)

	assert.Equal(t, "db.internal:5432", bindings.Input("db_endpoint"))
	assert.True(t, bindings.Bool("ssl"), "default should apply when input is absent")
	assert.Equal(t, "5432", bindings.Input("port"))
	assert.Equal(t, "s3cret", bindings.Secrets["DB_PASSWORD"])
}

func TestValidate_MissingRequiredInputNamesField(t *testing.T) {
	tmpl := bootstrapTemplate()

	_, err := Validate(tmpl, map[string]string{
		"db_name":   "app",
		"db_user":   "deployer",
		"sql_paths": "schema.sql",
	}, map[string]string{"DB_PASSWORD": "s3cret"})

	var contractErr *Error
	require.ErrorAs(t, err, &contractErr)
	assert.Contains(t, contractErr.Error(), `required input "db_endpoint" is missing`)
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	tmpl := bootstrapTemplate()

	_, err := Validate(tmpl, map[string]string{
		"db_user":   "deployer",
		"sql_paths": "schema.sql",
		"ssl":       "yes-please",
		"surprise":  "x",
	}, nil)

	var contractErr *Error
	require.ErrorAs(t, err, &contractErr)
	assert.Len(t, contractErr.Violations, 5)
	assert.Contains(t, contractErr.Error(), `required input "db_endpoint" is missing`)
	assert.Contains(t, contractErr.Error(), `required input "db_name" is missing`)
	assert.Contains(t, contractErr.Error(), `input "ssl" expects a boolean`)
	assert.Contains(t, contractErr.Error(), `input "surprise" is not declared`)
	assert.Contains(t, contractErr.Error(), `required secret "DB_PASSWORD" is not bound`)
}

func TestValidate_TypeCoercion(t *testing.T) {
	testCases := map[string]struct {
		spec     template.InputSpec
		raw      string
		rendered string
		wantErr  bool
	}{
		"bool true":       {spec: template.InputSpec{Name: "x", Type: template.TypeBoolean}, raw: "true", rendered: "true"},
		"bool numeric":    {spec: template.InputSpec{Name: "x", Type: template.TypeBoolean}, raw: "1", rendered: "true"},
		"bool invalid":    {spec: template.InputSpec{Name: "x", Type: template.TypeBoolean}, raw: "enable", wantErr: true},
		"number int":      {spec: template.InputSpec{Name: "x", Type: template.TypeNumber}, raw: "0", rendered: "0"},
		"number float":    {spec: template.InputSpec{Name: "x", Type: template.TypeNumber}, raw: "1.50", rendered: "1.5"},
		"number invalid":  {spec: template.InputSpec{Name: "x", Type: template.TypeNumber}, raw: "ten", wantErr: true},
		"string verbatim": {spec: template.InputSpec{Name: "x", Type: template.TypeString}, raw: " as-is ", rendered: " as-is "},
	}

	for label, tc := range testCases {
		t.Run(label, func(t *testing.T) {
			tmpl := &template.Template{
				Name:   "coerce",
				Inputs: []template.InputSpec{tc.spec},
				Steps:  []template.Step{{Name: "noop", Run: []string{"true"}}},
			}

			bindings, err := Validate(tmpl, map[string]string{"x": tc.raw}, nil)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.rendered, bindings.Input("x"))
		})
	}
}

func TestValidate_EmptySecretIsUnbound(t *testing.T) {
	tmpl := bootstrapTemplate()

	_, err := Validate(tmpl, map[string]string{
		"db_endpoint": "db.internal:5432",
		"db_name":     "app",
		"db_user":     "deployer",
		"sql_paths":   "schema.sql",
	}, map[string]string{"DB_PASSWORD": ""})

	var contractErr *Error
	require.ErrorAs(t, err, &contractErr)
	assert.Contains(t, contractErr.Error(), `required secret "DB_PASSWORD" is not bound`)
}

func TestBindings_Resolve(t *testing.T) {
	bindings := &Bindings{
		Inputs: map[string]Value{
			"region": {Type: template.TypeString, String: "us-west-2"},
		},
		Secrets: map[string]string{"TOKEN": "tk"},
	}

	value, err := bindings.Resolve("inputs", "region")
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", value)

	value, err = bindings.Resolve("secrets", "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "tk", value)

	_, err = bindings.Resolve("inputs", "nope")
	assert.Error(t, err)

	_, err = bindings.Resolve("matrix", "region")
	assert.Error(t, err)
}
