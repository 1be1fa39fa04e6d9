package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("CONVEYOR_SECRET_DB_PASSWORD", "hunter2")

	value, err := EnvProvider{}.Get(context.Background(), "DB_PASSWORD")
	assert.NoError(t, err)
	assert.Equal(t, "hunter2", value)

	value, err = EnvProvider{}.Get(context.Background(), "NOPE")
	assert.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestChain(t *testing.T) {
	chain := Chain{
		StaticProvider{"A": "first"},
		StaticProvider{"A": "second", "B": "fallback"},
	}

	value, err := chain.Get(context.Background(), "A")
	assert.NoError(t, err)
	assert.Equal(t, "first", value)

	value, err = chain.Get(context.Background(), "B")
	assert.NoError(t, err)
	assert.Equal(t, "fallback", value)

	value, err = chain.Get(context.Background(), "C")
	assert.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestParseBinding(t *testing.T) {
	testCases := map[string]struct {
		input   string
		name    string
		value   string
		wantErr bool
	}{
		"ok":          {input: "DB_PASSWORD=s3cret", name: "DB_PASSWORD", value: "s3cret"},
		"empty value": {input: "TOKEN=", name: "TOKEN", value: ""},
		"equals in value": {
			input: "CONN=user=app;pass=x",
			name:  "CONN",
			value: "user=app;pass=x",
		},
		"no equals":  {input: "DB_PASSWORD", wantErr: true},
		"empty name": {input: "=x", wantErr: true},
	}

	for label, tc := range testCases {
		t.Run(label, func(t *testing.T) {
			name, value, err := ParseBinding(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.name, name)
			assert.Equal(t, tc.value, value)
		})
	}
}

func TestResolve(t *testing.T) {
	provider := StaticProvider{
		"AWS_ROLE_ARN": "arn:aws:iam::123456789012:role/deploy",
	}

	values, err := Resolve(context.Background(), provider, []string{"AWS_ROLE_ARN", "DB_PASSWORD"})
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{
		"AWS_ROLE_ARN": "arn:aws:iam::123456789012:role/deploy",
	}, values)
}
