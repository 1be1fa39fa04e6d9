package errors

import "errors"

var (
	ErrTemplateNotFound      = errors.New("template not found")
	ErrRevisionNotFound      = errors.New("no published revision for pin")
	ErrTagImmutable          = errors.New("tag is already published with different content")
	ErrRunNotFound           = errors.New("run not found")
	ErrLockHeld              = errors.New("apply lock is held by another run")
	ErrPolicyDenied          = errors.New("invocation denied by admission policy")
	ErrArtifactBucketUnset   = errors.New("artifact bucket is not configured")
	ErrWebIdentityTokenUnset = errors.New("no web identity token available for role exchange")
)
