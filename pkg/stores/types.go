package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openwsm/openwsm/pkg/flight"
	"github.com/openwsm/openwsm/pkg/resource"
)

// CloudContext is the provisioned cloud project or subscription a
// workspace's controlled resources live in. Its absence is a hard
// precondition failure for controlled-resource creation.
type CloudContext struct {
	WorkspaceID   uuid.UUID              `json:"workspace_id"`
	CloudPlatform resource.CloudPlatform `json:"cloud_platform"`

	// Context is platform-specific data (project id, subscription id) as
	// an opaque JSON blob.
	Context json.RawMessage `json:"context"`

	CreatedAt time.Time `json:"created_at"`
}

// ResourceUpdate is the dynamic column list for a metadata update. Nil
// fields are left unchanged; calling with every field nil is a programming
// error.
type ResourceUpdate struct {
	// Name replaces the resource name.
	Name *string

	// Description replaces the description.
	Description *string

	// Properties replaces the property map.
	Properties map[string]string

	// Attributes replaces the type-specific attribute blob.
	Attributes json.RawMessage
}

// Empty reports whether the update would change nothing.
func (u ResourceUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Properties == nil && u.Attributes == nil
}

// Store is the persistence interface the rest of the system depends on.
// Flight persistence is part of the same store so resource metadata and
// flight checkpoints share one database.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Cloud context operations
	CreateCloudContext(ctx context.Context, cc *CloudContext) error
	HasCloudContext(ctx context.Context, workspaceID uuid.UUID, platform resource.CloudPlatform) (bool, error)
	DeleteCloudContext(ctx context.Context, workspaceID uuid.UUID, platform resource.CloudPlatform) (bool, error)

	// Resource operations
	CreateControlledResource(ctx context.Context, r *resource.Resource) error
	CreateReferencedResource(ctx context.Context, r *resource.Resource) error
	GetResource(ctx context.Context, workspaceID, resourceID uuid.UUID) (*resource.Resource, error)
	GetResourceByName(ctx context.Context, workspaceID uuid.UUID, name string) (*resource.Resource, error)
	ListResources(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*resource.Resource, error)
	DeleteResource(ctx context.Context, workspaceID, resourceID uuid.UUID) (bool, error)
	UpdateResource(ctx context.Context, workspaceID, resourceID uuid.UUID, update ResourceUpdate) error
	UpdateResourceState(ctx context.Context, workspaceID, resourceID uuid.UUID, from, to resource.State, flightID, stateError string) error
	CountResourcesByState(ctx context.Context) (map[resource.State]int, error)

	// Flight persistence
	flight.Store
}

// dbResource is the row-level persisted form. Constructed fresh on every
// read, owned exclusively by the store, never cached or mutated in place.
type dbResource struct {
	workspaceID   string
	cloudPlatform string
	resourceID    string
	name          string
	description   string
	stewardship   string
	resourceType  string
	cloning       string
	attributes    string
	properties    string
	lineage       string
	accessScope   string
	managedBy     string
	associatedApp string
	assignedUser  string
	state         string
	flightID      string
	stateError    string
	createdAt     time.Time
	updatedAt     time.Time
}
