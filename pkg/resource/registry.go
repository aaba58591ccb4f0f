package resource

import (
	"encoding/json"
	"sort"
)

// Type is the concrete resource type identifier persisted in the store.
// The set of types is closed and statically enumerable; dispatch is a map
// lookup, never dynamic plugin resolution.
type Type string

const (
	TypeControlledGcpGcsBucket          Type = "CONTROLLED_GCP_GCS_BUCKET"
	TypeControlledGcpBigQueryDataset    Type = "CONTROLLED_GCP_BIG_QUERY_DATASET"
	TypeControlledAzureStorageContainer Type = "CONTROLLED_AZURE_STORAGE_CONTAINER"
	TypeControlledAzureKubernetesNS     Type = "CONTROLLED_AZURE_KUBERNETES_NAMESPACE"
	TypeReferencedGcpGcsBucket          Type = "REFERENCED_GCP_GCS_BUCKET"
	TypeReferencedGitRepo               Type = "REFERENCED_ANY_GIT_REPO"
)

// Family groups types by the kind of cloud object they represent.
type Family string

const (
	FamilyBucket     Family = "BUCKET"
	FamilyDataset    Family = "DATASET"
	FamilyContainer  Family = "CONTAINER"
	FamilyKubernetes Family = "KUBERNETES_NAMESPACE"
	FamilyGitRepo    Family = "GIT_REPO"
)

// Attributes is the type-specific payload carried by a resource. Each
// concrete type owns its JSON schema; the store round-trips it opaquely.
type Attributes interface {
	// ResourceType returns the concrete type the attributes belong to.
	ResourceType() Type

	// Validate checks type-specific invariants.
	Validate() error
}

// HandlerFunc reconstructs typed attributes from the persisted JSON blob.
type HandlerFunc func(raw json.RawMessage) (Attributes, error)

// Descriptor is the static metadata registered for a concrete type.
type Descriptor struct {
	// Type is the identifier this descriptor serves.
	Type Type

	// Stewardship is CONTROLLED or REFERENCED.
	Stewardship Stewardship

	// CloudPlatform is the cloud the type lives on.
	CloudPlatform CloudPlatform

	// Family is the cloud-object family.
	Family Family

	// Cloneable reports whether clone operations are supported.
	Cloneable bool

	// Handler decodes persisted attributes into the typed form.
	Handler HandlerFunc
}

// registry is built once at process start. It is never mutated afterwards,
// so reads need no locking.
var registry = map[Type]Descriptor{}

func register(d Descriptor) {
	if _, dup := registry[d.Type]; dup {
		panic("resource: duplicate type registration: " + string(d.Type))
	}
	if d.Handler == nil {
		panic("resource: type registered without handler: " + string(d.Type))
	}
	registry[d.Type] = d
}

// Lookup resolves a type identifier to its descriptor. Identifiers from a
// newer or older code version fail with a classified unknown-type error
// rather than a panic: the database may legitimately outlive the binary.
func Lookup(t Type) (Descriptor, error) {
	d, ok := registry[t]
	if !ok {
		return Descriptor{}, NewUnknownTypeError(t)
	}
	return d, nil
}

// DecodeAttributes reconstructs typed attributes for a persisted type
// identifier and JSON blob.
func DecodeAttributes(t Type, raw json.RawMessage) (Attributes, error) {
	d, err := Lookup(t)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return d.Handler(raw)
}

// Types returns all registered type identifiers in stable order.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func decodeInto[T Attributes](raw json.RawMessage, attrs T) (Attributes, error) {
	if err := json.Unmarshal(raw, attrs); err != nil {
		return nil, NewInvalidFieldError("cannot decode attributes: " + err.Error())
	}
	return attrs, nil
}
