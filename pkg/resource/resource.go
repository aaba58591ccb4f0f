package resource

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// CloudPlatform identifies which cloud a resource lives on.
type CloudPlatform string

const (
	// PlatformGCP is Google Cloud Platform.
	PlatformGCP CloudPlatform = "GCP"

	// PlatformAzure is Microsoft Azure.
	PlatformAzure CloudPlatform = "AZURE"

	// PlatformAny marks resource types that are not bound to a cloud, such
	// as referenced git repositories.
	PlatformAny CloudPlatform = "ANY"
)

// Stewardship is the ownership axis of the type classification.
type Stewardship string

const (
	// StewardshipControlled means the service owns the backing cloud object
	// and can delete it.
	StewardshipControlled Stewardship = "CONTROLLED"

	// StewardshipReferenced means the service points at a cloud object it
	// does not own.
	StewardshipReferenced Stewardship = "REFERENCED"
)

// CloningInstructions declares how a resource participates in workspace
// cloning.
type CloningInstructions string

const (
	// CloneNothing excludes the resource from clones.
	CloneNothing CloningInstructions = "NOTHING"

	// CloneDefinition clones the resource definition but not its data.
	CloneDefinition CloningInstructions = "DEFINITION"

	// CloneResource clones the resource and its data.
	CloneResource CloningInstructions = "RESOURCE"

	// CloneReference creates a reference to the source resource.
	CloneReference CloningInstructions = "REFERENCE"
)

// Valid reports whether the value is one of the known instructions.
func (c CloningInstructions) Valid() bool {
	switch c {
	case CloneNothing, CloneDefinition, CloneResource, CloneReference:
		return true
	}
	return false
}

// ValidFor reports whether the instruction is legal for the given
// stewardship. RESOURCE and DEFINITION mutate cloud state, which a
// referenced resource cannot do.
func (c CloningInstructions) ValidFor(s Stewardship) bool {
	if !c.Valid() {
		return false
	}
	if s == StewardshipReferenced {
		return c == CloneNothing || c == CloneReference
	}
	return true
}

// AccessScope is the sharing scope of a controlled resource.
type AccessScope string

const (
	// AccessScopeShared resources are visible to all workspace members.
	AccessScopeShared AccessScope = "SHARED"

	// AccessScopePrivate resources are visible to their assigned user only.
	AccessScopePrivate AccessScope = "PRIVATE"
)

// ManagedBy records which actor manages a controlled resource.
type ManagedBy string

const (
	// ManagedByUser resources are managed directly by workspace users.
	ManagedByUser ManagedBy = "USER"

	// ManagedByApplication resources are managed by an associated app.
	ManagedByApplication ManagedBy = "APPLICATION"
)

// LineageEntry is one hop in a resource's clone ancestry.
type LineageEntry struct {
	// SourceWorkspaceID is the workspace the resource was cloned from.
	SourceWorkspaceID uuid.UUID `json:"source_workspace_id"`

	// SourceResourceID is the resource it was cloned from.
	SourceResourceID uuid.UUID `json:"source_resource_id"`
}

// PropertyFolderID is the one reserved property key. Its value must parse as
// a UUID; values that do not are silently dropped on load.
const PropertyFolderID = "folder-id"

// nameRE is the resource naming policy: 1-128 characters, starting with a
// letter or number, then letters, numbers, dashes, underscores, periods.
var nameRE = regexp.MustCompile(`^[a-zA-Z0-9][-_.a-zA-Z0-9]{0,127}$`)

// ValidateName checks a resource name against the naming policy.
func ValidateName(name string) error {
	if name == "" {
		return NewInvalidFieldError("resource name must not be empty")
	}
	if !nameRE.MatchString(name) {
		return NewInvalidFieldError("resource name " + name + " does not match naming policy")
	}
	return nil
}

// Resource is the identity and metadata common to every provisioned or
// referenced entity. Type-specific configuration lives behind Attributes.
type Resource struct {
	// WorkspaceID is the owning workspace.
	WorkspaceID uuid.UUID `json:"workspace_id"`

	// ResourceID is globally unique and immutable once created.
	ResourceID uuid.UUID `json:"resource_id"`

	// Name is unique within the workspace.
	Name string `json:"name"`

	// Description is optional free text.
	Description string `json:"description,omitempty"`

	// Type is the concrete resource type.
	Type Type `json:"resource_type"`

	// Cloning declares clone participation.
	Cloning CloningInstructions `json:"cloning_instructions"`

	// Lineage is the append-only clone ancestry. Excluded from equality.
	Lineage []LineageEntry `json:"resource_lineage,omitempty"`

	// Properties is a string-keyed metadata map. See PropertyFolderID.
	Properties map[string]string `json:"properties,omitempty"`

	// Attributes is the type-specific payload.
	Attributes Attributes `json:"-"`

	// State is the current lifecycle state. Meaningful for controlled
	// resources only; referenced resources are always READY.
	State State `json:"state"`

	// FlightID is the flight currently mutating the resource, if any.
	FlightID string `json:"flight_id,omitempty"`

	// StateError holds the failure that put the resource in BROKEN.
	StateError string `json:"state_error,omitempty"`

	// Controlled-resource ownership metadata. Zero-valued for referenced
	// resources.
	AccessScope   AccessScope `json:"access_scope,omitempty"`
	ManagedBy     ManagedBy   `json:"managed_by,omitempty"`
	AssociatedApp string      `json:"associated_app,omitempty"`
	AssignedUser  string      `json:"assigned_user,omitempty"`

	// CreatedAt and UpdatedAt are maintained by the store.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stewardship returns the ownership axis derived from the concrete type.
func (r *Resource) Stewardship() Stewardship {
	d, err := Lookup(r.Type)
	if err != nil {
		return ""
	}
	return d.Stewardship
}

// CloudPlatform returns the platform derived from the concrete type.
func (r *Resource) CloudPlatform() CloudPlatform {
	d, err := Lookup(r.Type)
	if err != nil {
		return ""
	}
	return d.CloudPlatform
}

// Equal reports resource identity: two resources are the same entity when
// workspace and resource ids match. Lineage and mutable metadata are
// deliberately excluded.
func (r *Resource) Equal(other *Resource) bool {
	if other == nil {
		return false
	}
	return r.WorkspaceID == other.WorkspaceID && r.ResourceID == other.ResourceID
}

// Validate checks the invariants that hold for every resource regardless of
// type: non-empty valid name, ids present, cloning legal for the
// stewardship, and type-specific attribute validity.
func (r *Resource) Validate() error {
	if r.WorkspaceID == uuid.Nil {
		return NewInvalidFieldError("workspace id is required")
	}
	if r.ResourceID == uuid.Nil {
		return NewInvalidFieldError("resource id is required")
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	d, err := Lookup(r.Type)
	if err != nil {
		return err
	}
	if !r.Cloning.ValidFor(d.Stewardship) {
		return NewInvalidFieldError(
			"cloning instructions " + string(r.Cloning) + " are not valid for " + string(d.Stewardship) + " resources")
	}
	if r.Attributes == nil {
		return NewInvalidFieldError("resource attributes are required")
	}
	if r.Attributes.ResourceType() != r.Type {
		return NewInvalidFieldError("attributes do not match resource type " + string(r.Type))
	}
	return r.Attributes.Validate()
}

// NormalizeProperties applies reserved-key policy to a property map loaded
// from storage. A folder-id that does not parse as a UUID is dropped rather
// than surfaced as an error.
func NormalizeProperties(props map[string]string) map[string]string {
	if props == nil {
		return nil
	}
	if v, ok := props[PropertyFolderID]; ok {
		if _, err := uuid.Parse(v); err != nil {
			delete(props, PropertyFolderID)
		}
	}
	return props
}

// AttributesJSON serializes the type-specific attributes for storage.
func (r *Resource) AttributesJSON() (json.RawMessage, error) {
	if r.Attributes == nil {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(r.Attributes)
	if err != nil {
		return nil, NewInvalidFieldError("cannot serialize attributes: " + err.Error())
	}
	return b, nil
}
