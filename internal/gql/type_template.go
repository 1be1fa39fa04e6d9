package gql

import (
	"github.com/conveyorhq/conveyor/internal/registry"
	"github.com/conveyorhq/conveyor/internal/template"
)

// TemplateResolver resolves the Template GraphQL type
type TemplateResolver struct {
	revision registry.Revision
}

// Name resolves the name field
func (r *TemplateResolver) Name() string {
	return r.revision.Template.Name
}

// Description resolves the description field
func (r *TemplateResolver) Description() string {
	return r.revision.Template.Description
}

// Digest resolves the digest field
func (r *TemplateResolver) Digest() string {
	return r.revision.Digest
}

// Mutating reports whether the template can take the apply lock at all.
func (r *TemplateResolver) Mutating() bool {
	return r.revision.Template.Lock != nil
}

// Inputs resolves the inputs field
func (r *TemplateResolver) Inputs() []*TemplateInputResolver {
	inputs := r.revision.Template.Inputs
	resolvers := make([]*TemplateInputResolver, len(inputs))
	for i := range inputs {
		resolvers[i] = &TemplateInputResolver{spec: inputs[i]}
	}
	return resolvers
}

// Secrets resolves the secrets field
func (r *TemplateResolver) Secrets() []*TemplateSecretResolver {
	secrets := r.revision.Template.Secrets
	resolvers := make([]*TemplateSecretResolver, len(secrets))
	for i := range secrets {
		resolvers[i] = &TemplateSecretResolver{spec: secrets[i]}
	}
	return resolvers
}

// Artifacts resolves the artifacts field
func (r *TemplateResolver) Artifacts() []string {
	if r.revision.Template.Artifacts == nil {
		return []string{}
	}
	return r.revision.Template.Artifacts
}

// TemplateInputResolver resolves the TemplateInput GraphQL type
type TemplateInputResolver struct {
	spec template.InputSpec
}

// Name resolves the name field
func (r *TemplateInputResolver) Name() string {
	return r.spec.Name
}

// Type resolves the type field
func (r *TemplateInputResolver) Type() string {
	return string(r.spec.Type)
}

// Required resolves the required field
func (r *TemplateInputResolver) Required() bool {
	return r.spec.Required
}

// Default resolves the default field
func (r *TemplateInputResolver) Default() *string {
	return r.spec.Default
}

// Description resolves the description field
func (r *TemplateInputResolver) Description() string {
	return r.spec.Description
}

// TemplateSecretResolver resolves the TemplateSecret GraphQL type
type TemplateSecretResolver struct {
	spec template.SecretSpec
}

// Name resolves the name field
func (r *TemplateSecretResolver) Name() string {
	return r.spec.Name
}

// Required resolves the required field
func (r *TemplateSecretResolver) Required() bool {
	return r.spec.Required
}

// Description resolves the description field
func (r *TemplateSecretResolver) Description() string {
	return r.spec.Description
}
