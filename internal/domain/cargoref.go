package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CargoKind is the closed set of payload kinds a task result can point at.
type CargoKind string

const (
	CargoKindDocument  CargoKind = "document"
	CargoKindVersion   CargoKind = "version"
	CargoKindEntity    CargoKind = "entity"
	CargoKindScreening CargoKind = "screening"
	CargoKindExternal  CargoKind = "external"
)

func (k CargoKind) String() string { return string(k) }

func (k CargoKind) IsValid() bool {
	switch k {
	case CargoKindDocument, CargoKindVersion, CargoKindEntity, CargoKindScreening, CargoKindExternal:
		return true
	}
	return false
}

// usesUUID reports whether refs of this kind carry a UUID identifier.
// External refs carry an opaque string instead.
func (k CargoKind) usesUUID() bool {
	switch k {
	case CargoKindDocument, CargoKindVersion, CargoKindEntity, CargoKindScreening:
		return true
	case CargoKindExternal:
		return false
	}
	return false
}

// DefaultDocumentNamespace is the namespace used for refs minted by this service.
const DefaultDocumentNamespace = "documents"

// CargoRef is a typed pointer to result payload, serialized as scheme://namespace/id.
// For External refs the namespace names the foreign system and ExternalID is opaque.
type CargoRef struct {
	Kind       CargoKind
	Namespace  string
	ID         uuid.UUID
	ExternalID string
}

// NewDocumentRef returns a document:// reference.
func NewDocumentRef(namespace string, id uuid.UUID) CargoRef {
	return CargoRef{Kind: CargoKindDocument, Namespace: namespace, ID: id}
}

// NewVersionRef returns a version:// reference.
func NewVersionRef(namespace string, id uuid.UUID) CargoRef {
	return CargoRef{Kind: CargoKindVersion, Namespace: namespace, ID: id}
}

// NewEntityRef returns an entity:// reference.
func NewEntityRef(namespace string, id uuid.UUID) CargoRef {
	return CargoRef{Kind: CargoKindEntity, Namespace: namespace, ID: id}
}

// NewScreeningRef returns a screening:// reference.
func NewScreeningRef(namespace string, id uuid.UUID) CargoRef {
	return CargoRef{Kind: CargoKindScreening, Namespace: namespace, ID: id}
}

// NewExternalRef returns an external:// reference to an identifier owned by another system.
func NewExternalRef(system, id string) CargoRef {
	return CargoRef{Kind: CargoKindExternal, Namespace: system, ExternalID: id}
}

// CargoRefErrorKind classifies parse failures.
type CargoRefErrorKind string

const (
	CargoRefMalformed     CargoRefErrorKind = "malformed"
	CargoRefUnknownScheme CargoRefErrorKind = "unknown_scheme"
	CargoRefMissingID     CargoRefErrorKind = "missing_id"
	CargoRefInvalidID     CargoRefErrorKind = "invalid_id"
)

// CargoRefError is the structured error returned by ParseCargoRef.
type CargoRefError struct {
	Kind  CargoRefErrorKind
	Input string
	Msg   string
}

func (e *CargoRefError) Error() string {
	return fmt.Sprintf("cargo ref %q: %s: %s", e.Input, e.Kind, e.Msg)
}

// ParseCargoRef parses scheme://namespace/id. The namespace is everything up to
// the first slash after the scheme separator; the remainder is the identifier.
func ParseCargoRef(s string) (CargoRef, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return CargoRef{}, &CargoRefError{Kind: CargoRefMalformed, Input: s, Msg: "expected scheme://namespace/id"}
	}

	kind := CargoKind(scheme)
	if !kind.IsValid() {
		return CargoRef{}, &CargoRefError{Kind: CargoRefUnknownScheme, Input: s, Msg: fmt.Sprintf("unknown scheme %q", scheme)}
	}

	namespace, id, ok := strings.Cut(rest, "/")
	if namespace == "" {
		return CargoRef{}, &CargoRefError{Kind: CargoRefMalformed, Input: s, Msg: "namespace is empty"}
	}
	if !ok || id == "" {
		return CargoRef{}, &CargoRefError{Kind: CargoRefMissingID, Input: s, Msg: "identifier segment is missing"}
	}

	if !kind.usesUUID() {
		return NewExternalRef(namespace, id), nil
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return CargoRef{}, &CargoRefError{Kind: CargoRefInvalidID, Input: s, Msg: err.Error()}
	}
	return CargoRef{Kind: kind, Namespace: namespace, ID: parsed}, nil
}

// String renders the URI form. ParseCargoRef(r.String()) == r for every valid ref.
func (r CargoRef) String() string {
	if r.Kind == CargoKindExternal {
		return string(r.Kind) + "://" + r.Namespace + "/" + r.ExternalID
	}
	return string(r.Kind) + "://" + r.Namespace + "/" + r.ID.String()
}

// Validate checks that the ref can be rendered and parsed back unchanged.
func (r CargoRef) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("cargo ref: unknown kind %q", r.Kind)
	}
	if r.Namespace == "" || strings.Contains(r.Namespace, "/") {
		return fmt.Errorf("cargo ref: namespace %q must be non-empty and contain no slash", r.Namespace)
	}
	if r.Kind == CargoKindExternal && r.ExternalID == "" {
		return fmt.Errorf("cargo ref: external id is empty")
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (r CargoRef) MarshalText() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *CargoRef) UnmarshalText(b []byte) error {
	parsed, err := ParseCargoRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
