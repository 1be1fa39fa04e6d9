package authz

import "testing"

func TestSubjectPolicy(t *testing.T) {
	policy := &SubjectPolicy{
		AllowedSubjects: []string{"ops@example.com", "oidc|1234"},
	}

	testCases := map[string]struct {
		profile Profile
		wantErr bool
	}{
		"allowed email": {
			profile: Profile{Sub: "oidc|9999", Email: "ops@example.com"},
		},
		"allowed email different case": {
			profile: Profile{Sub: "oidc|9999", Email: "Ops@Example.com"},
		},
		"allowed subject": {
			profile: Profile{Sub: "oidc|1234", Email: "someone@example.com"},
		},
		"denied": {
			profile: Profile{Sub: "oidc|9999", Email: "intruder@example.com"},
			wantErr: true,
		},
	}

	for label, tc := range testCases {
		t.Run(label, func(t *testing.T) {
			err := policy.Authorize(tc.profile)
			if tc.wantErr && err == nil {
				t.Fatalf("expected an error; got none")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error; got %v", err)
			}
		})
	}
}

func TestSubjectPolicy_EmptyListDenies(t *testing.T) {
	policy := &SubjectPolicy{}
	if err := policy.Authorize(Profile{Email: "anyone@example.com"}); err == nil {
		t.Fatalf("expected an error; got none")
	}
}

func TestAuthorizer_Disabled(t *testing.T) {
	authorizer := NewAuthorizer(false, &SubjectPolicy{})
	if err := authorizer.Authorize(Profile{Email: "anyone@example.com"}); err != nil {
		t.Fatalf("expected no error when disabled; got %v", err)
	}
}

func TestNewSubjectAuthorizer(t *testing.T) {
	authorizer := NewSubjectAuthorizer(nil)
	if err := authorizer.Authorize(Profile{Email: "anyone@example.com"}); err != nil {
		t.Fatalf("expected empty subject list to disable enforcement; got %v", err)
	}

	authorizer = NewSubjectAuthorizer([]string{"ops@example.com"})
	if err := authorizer.Authorize(Profile{Email: "intruder@example.com"}); err == nil {
		t.Fatalf("expected an error; got none")
	}
}
