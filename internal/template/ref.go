package template

import (
	"fmt"
	"strings"
)

const digestPrefix = "sha256:"

// PinKind classifies how an invocation selects a template revision.
type PinKind string

const (
	// PinDigest pins to a content digest. Immutable by construction.
	PinDigest PinKind = "digest"
	// PinTag pins to a published tag. Intended-immutable: a tag must never
	// be re-published with different content.
	PinTag PinKind = "tag"
	// PinChannel tracks the most recently published revision on a channel
	// ("latest" semantics). Mutable.
	PinChannel PinKind = "channel"
)

// DefaultChannel is used when a ref carries no pin at all.
const DefaultChannel = "main"

// Ref identifies a template at a version: {name}@{pin}.
// Examples:
//
//	db-bootstrap@sha256:9f86d0…         (digest)
//	db-bootstrap@v1.2.0                 (tag)
//	db-bootstrap@main                   (channel)
//	db-bootstrap                        (channel, defaults to main)
type Ref struct {
	Name string
	Pin  string
	Kind PinKind
}

// ParseRef parses a {name}@{pin} reference. Pins beginning with "sha256:" are
// digests; pins that parse as a semver-style tag (leading "v") are tags;
// anything else is treated as a channel.
func ParseRef(s string) (Ref, error) {
	name, pin, found := strings.Cut(s, "@")
	if name == "" {
		return Ref{}, fmt.Errorf("invalid template ref %q: missing name", s)
	}
	if strings.Contains(pin, "@") {
		return Ref{}, fmt.Errorf("invalid template ref %q: multiple @ separators", s)
	}

	if !found || pin == "" {
		return Ref{Name: name, Pin: DefaultChannel, Kind: PinChannel}, nil
	}

	switch {
	case strings.HasPrefix(pin, digestPrefix):
		if len(pin) != len(digestPrefix)+64 {
			return Ref{}, fmt.Errorf("invalid template ref %q: malformed digest pin", s)
		}
		return Ref{Name: name, Pin: pin, Kind: PinDigest}, nil
	case looksLikeTag(pin):
		return Ref{Name: name, Pin: pin, Kind: PinTag}, nil
	default:
		return Ref{Name: name, Pin: pin, Kind: PinChannel}, nil
	}
}

// String renders the ref back to {name}@{pin} form.
func (r Ref) String() string {
	return r.Name + "@" + r.Pin
}

// looksLikeTag reports whether pin resembles a version tag, e.g. v1 or v1.2.0.
func looksLikeTag(pin string) bool {
	if len(pin) < 2 || pin[0] != 'v' {
		return false
	}
	rest := pin[1:]
	if rest[0] < '0' || rest[0] > '9' {
		return false
	}
	for _, c := range rest {
		switch {
		case c >= '0' && c <= '9', c == '.', c == '-', c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
