package authz

import (
	"fmt"
	"strings"
)

// Profile represents user information needed for authorization.
// This mirrors the auth.Profile struct but keeps packages decoupled.
type Profile struct {
	Sub   string
	Name  string
	Email string
}

// Policy defines an authorization rule that can allow or deny access.
type Policy interface {
	// Authorize returns nil if the user is authorized, or an error if denied.
	Authorize(profile Profile) error
	// Name returns a human-readable name for this policy.
	Name() string
}

// SubjectPolicy restricts access to a fixed set of identities. Each entry
// matches either an email address (case-insensitive) or an exact OIDC subject.
type SubjectPolicy struct {
	AllowedSubjects []string
}

// Name returns the policy name.
func (p *SubjectPolicy) Name() string {
	return "SubjectRestriction"
}

// Authorize checks the profile against the allowed subject list.
func (p *SubjectPolicy) Authorize(profile Profile) error {
	if len(p.AllowedSubjects) == 0 {
		return fmt.Errorf("no subjects are authorized")
	}

	for _, allowed := range p.AllowedSubjects {
		if allowed == profile.Sub {
			return nil
		}
		if strings.EqualFold(allowed, profile.Email) {
			return nil
		}
	}
	return fmt.Errorf("access denied: %s is not authorized", profile.Email)
}

// Authorizer manages a collection of authorization policies.
type Authorizer struct {
	policies []Policy
	enabled  bool
}

// NewAuthorizer creates a new authorizer with the given policies.
func NewAuthorizer(enabled bool, policies ...Policy) *Authorizer {
	return &Authorizer{
		policies: policies,
		enabled:  enabled,
	}
}

// Authorize runs all policies and returns an error if any policy denies access.
func (a *Authorizer) Authorize(profile Profile) error {
	if !a.enabled {
		return nil
	}

	for _, policy := range a.policies {
		if err := policy.Authorize(profile); err != nil {
			return fmt.Errorf("authorization policy %s failed: %w", policy.Name(), err)
		}
	}
	return nil
}

// NewSubjectAuthorizer creates a preconfigured authorizer that restricts access
// to the given subjects. Subjects may be email addresses or OIDC subject IDs;
// an empty list disables enforcement.
func NewSubjectAuthorizer(subjects []string) *Authorizer {
	return NewAuthorizer(len(subjects) > 0, &SubjectPolicy{
		AllowedSubjects: subjects,
	})
}
