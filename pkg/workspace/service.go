package workspace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/openwsm/openwsm/pkg/cloud"
	"github.com/openwsm/openwsm/pkg/flight"
	"github.com/openwsm/openwsm/pkg/resource"
	"github.com/openwsm/openwsm/pkg/stores"
	"github.com/openwsm/openwsm/pkg/telemetry"
)

// Service is the submission API for workspace resource operations.
// Controlled-resource mutations launch flights and return a flight id to
// poll; referenced-resource operations and reads complete synchronously.
// The busy gate rejects a second mutation on a resource whose state says an
// operation is already in progress.
type Service struct {
	store     stores.Store
	cloud     cloud.Service
	scheduler *flight.Scheduler
	rule      resource.StateRule
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	events    *telemetry.EventPublisher
}

// NewService creates the workspace resource service.
func NewService(store stores.Store, cloudSvc cloud.Service, scheduler *flight.Scheduler, rule resource.StateRule, tel *telemetry.Telemetry) (*Service, error) {
	if !rule.Valid() {
		return nil, fmt.Errorf("invalid state rule %q", rule)
	}
	return &Service{
		store:     store,
		cloud:     cloudSvc,
		scheduler: scheduler,
		rule:      rule,
		logger:    tel.Logger.NewComponentLogger("workspace-service"),
		metrics:   tel.Metrics,
		events:    tel.Events,
	}, nil
}

// CreateControlledResourceRequest is the input to a controlled-resource
// creation. Project carries the GCP project for GCP types; Cluster carries
// the AKS cluster name for namespace resources.
type CreateControlledResourceRequest struct {
	WorkspaceID   uuid.UUID
	Name          string
	Description   string
	Cloning       resource.CloningInstructions
	Properties    map[string]string
	AccessScope   resource.AccessScope
	ManagedBy     resource.ManagedBy
	AssociatedApp string
	AssignedUser  string
	Attributes    resource.Attributes
	Project       string
	Cluster       string
}

// CreateControlledResource validates the request and launches a create
// flight. The returned resource is the submitted form, not the stored row;
// poll the flight for completion.
func (s *Service) CreateControlledResource(ctx context.Context, req CreateControlledResourceRequest) (*resource.Resource, string, error) {
	r := &resource.Resource{
		WorkspaceID:   req.WorkspaceID,
		ResourceID:    uuid.New(),
		Name:          req.Name,
		Description:   req.Description,
		Cloning:       req.Cloning,
		Properties:    req.Properties,
		AccessScope:   req.AccessScope,
		ManagedBy:     req.ManagedBy,
		AssociatedApp: req.AssociatedApp,
		AssignedUser:  req.AssignedUser,
		Attributes:    req.Attributes,
		State:         resource.StateCreating,
	}
	if r.Attributes != nil {
		r.Type = r.Attributes.ResourceType()
	}
	if r.Cloning == "" {
		r.Cloning = resource.CloneNothing
	}
	if r.AccessScope == "" {
		r.AccessScope = resource.AccessScopeShared
	}
	if r.ManagedBy == "" {
		r.ManagedBy = resource.ManagedByUser
	}
	if err := r.Validate(); err != nil {
		return nil, "", err
	}
	if r.Stewardship() != resource.StewardshipControlled {
		return nil, "", resource.NewInvalidFieldError(
			fmt.Sprintf("resource type %s is not controlled", r.Type))
	}

	// Fast-fail the hard preconditions before a flight spins up. The
	// metadata step re-checks both inside its transaction, so these only
	// save the caller a flight round-trip; they do not carry the race.
	if ok, err := s.store.HasCloudContext(ctx, r.WorkspaceID, r.CloudPlatform()); err != nil {
		return nil, "", err
	} else if !ok {
		return nil, "", resource.NewCloudContextRequiredError(
			fmt.Sprintf("workspace has no %s cloud context", r.CloudPlatform())).
			WithIdentity(r.WorkspaceID.String(), r.ResourceID.String())
	}
	if existing, err := s.store.GetResourceByName(ctx, r.WorkspaceID, r.Name); err == nil && existing != nil {
		return nil, "", resource.NewDuplicateResourceError(
			fmt.Sprintf("a resource named %q already exists in the workspace", r.Name)).
			WithIdentity(r.WorkspaceID.String(), existing.ResourceID.String())
	} else if err != nil && !resource.IsNotFound(err) {
		return nil, "", err
	}

	inputs, err := s.flightInputs(r, req.Project, req.Cluster, "", nil)
	if err != nil {
		return nil, "", err
	}
	flightID, err := s.scheduler.Submit(ctx, ClassResourceCreate, inputs)
	if err != nil {
		return nil, "", err
	}
	r.FlightID = flightID

	s.logger.WithWorkspaceID(r.WorkspaceID.String()).WithResourceID(r.ResourceID.String()).
		WithFlightID(flightID).Infof("submitted create flight for %s", r.Type)
	s.publishStateChange(r, flightID, "resource creation submitted")
	return r, flightID, nil
}

// CreateReferencedResourceRequest is the input to a referenced-resource
// creation.
type CreateReferencedResourceRequest struct {
	WorkspaceID uuid.UUID
	Name        string
	Description string
	Cloning     resource.CloningInstructions
	Properties  map[string]string
	Attributes  resource.Attributes
}

// CreateReferencedResource creates a reference synchronously. No cloud
// object is mutated, so no flight is needed and the resource is READY on
// return.
func (s *Service) CreateReferencedResource(ctx context.Context, req CreateReferencedResourceRequest) (*resource.Resource, error) {
	r := &resource.Resource{
		WorkspaceID: req.WorkspaceID,
		ResourceID:  uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Cloning:     req.Cloning,
		Properties:  req.Properties,
		Attributes:  req.Attributes,
		State:       resource.StateReady,
	}
	if r.Attributes != nil {
		r.Type = r.Attributes.ResourceType()
	}
	if r.Cloning == "" {
		r.Cloning = resource.CloneNothing
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Stewardship() != resource.StewardshipReferenced {
		return nil, resource.NewInvalidFieldError(
			fmt.Sprintf("resource type %s is not referenced", r.Type))
	}
	if err := s.store.CreateReferencedResource(ctx, r); err != nil {
		return nil, err
	}
	s.logger.WithWorkspaceID(r.WorkspaceID.String()).WithResourceID(r.ResourceID.String()).
		Infof("created referenced resource %s", r.Type)
	s.publishStateChange(r, "", "referenced resource created")
	return r, nil
}

// DeleteResourceRequest identifies the resource to delete and carries the
// cloud addressing a teardown flight needs.
type DeleteResourceRequest struct {
	WorkspaceID uuid.UUID
	ResourceID  uuid.UUID
	Project     string
	Cluster     string
}

// DeleteResource deletes a resource. For a referenced resource the row is
// removed synchronously and the returned flight id is empty. For a
// controlled resource a delete flight is launched; the resource must not be
// busy.
func (s *Service) DeleteResource(ctx context.Context, req DeleteResourceRequest) (string, error) {
	r, err := s.store.GetResource(ctx, req.WorkspaceID, req.ResourceID)
	if err != nil {
		return "", err
	}

	if r.Stewardship() == resource.StewardshipReferenced {
		if _, err := s.store.DeleteResource(ctx, req.WorkspaceID, req.ResourceID); err != nil {
			return "", err
		}
		s.publishStateChange(r, "", "referenced resource deleted")
		return "", nil
	}

	if err := s.requireIdle(r); err != nil {
		return "", err
	}

	inputs, err := s.flightInputs(r, req.Project, req.Cluster, string(r.State), nil)
	if err != nil {
		return "", err
	}
	flightID, err := s.scheduler.Submit(ctx, ClassResourceDelete, inputs)
	if err != nil {
		return "", err
	}
	s.logger.WithWorkspaceID(r.WorkspaceID.String()).WithResourceID(r.ResourceID.String()).
		WithFlightID(flightID).Infof("submitted delete flight for %s", r.Type)
	s.publishStateChange(r, flightID, "resource deletion submitted")
	return flightID, nil
}

// UpdateResourceRequest carries the metadata changes for a resource.
type UpdateResourceRequest struct {
	WorkspaceID uuid.UUID
	ResourceID  uuid.UUID
	Update      stores.ResourceUpdate
}

// UpdateResource updates resource metadata. Referenced resources update
// synchronously; controlled resources go through an update flight so the
// state machine excludes concurrent mutations.
func (s *Service) UpdateResource(ctx context.Context, req UpdateResourceRequest) (string, error) {
	if req.Update.Empty() {
		return "", resource.NewInvalidUpdateError("resource update has no fields to change").
			WithIdentity(req.WorkspaceID.String(), req.ResourceID.String())
	}
	r, err := s.store.GetResource(ctx, req.WorkspaceID, req.ResourceID)
	if err != nil {
		return "", err
	}

	if r.Stewardship() == resource.StewardshipReferenced {
		return "", s.store.UpdateResource(ctx, req.WorkspaceID, req.ResourceID, req.Update)
	}

	if err := s.requireIdle(r); err != nil {
		return "", err
	}
	if r.State != resource.StateReady {
		return "", resource.NewInvalidTransitionError(r.State, resource.StateUpdating).
			WithIdentity(r.WorkspaceID.String(), r.ResourceID.String())
	}

	inputs, err := s.flightInputs(r, "", "", "", &req.Update)
	if err != nil {
		return "", err
	}
	flightID, err := s.scheduler.Submit(ctx, ClassResourceUpdate, inputs)
	if err != nil {
		return "", err
	}
	s.logger.WithWorkspaceID(r.WorkspaceID.String()).WithResourceID(r.ResourceID.String()).
		WithFlightID(flightID).Info("submitted update flight")
	return flightID, nil
}

// CreateCloudContext records a provisioned cloud landing zone for a
// workspace. Controlled-resource creation on the platform requires it.
func (s *Service) CreateCloudContext(ctx context.Context, workspaceID uuid.UUID, platform resource.CloudPlatform, context json.RawMessage) error {
	return s.store.CreateCloudContext(ctx, &stores.CloudContext{
		WorkspaceID:   workspaceID,
		CloudPlatform: platform,
		Context:       context,
	})
}

// DeleteCloudContext removes a workspace's cloud context for a platform.
func (s *Service) DeleteCloudContext(ctx context.Context, workspaceID uuid.UUID, platform resource.CloudPlatform) (bool, error) {
	return s.store.DeleteCloudContext(ctx, workspaceID, platform)
}

// GetResource loads one resource.
func (s *Service) GetResource(ctx context.Context, workspaceID, resourceID uuid.UUID) (*resource.Resource, error) {
	return s.store.GetResource(ctx, workspaceID, resourceID)
}

// GetResourceByName loads one resource by its workspace-unique name.
func (s *Service) GetResourceByName(ctx context.Context, workspaceID uuid.UUID, name string) (*resource.Resource, error) {
	return s.store.GetResourceByName(ctx, workspaceID, name)
}

// ListResources pages through a workspace's resources.
func (s *Service) ListResources(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*resource.Resource, error) {
	return s.store.ListResources(ctx, workspaceID, limit, offset)
}

// CancelFlight requests cooperative cancellation of a running flight.
func (s *Service) CancelFlight(ctx context.Context, flightID string) error {
	return s.scheduler.Cancel(ctx, flightID)
}

// RefreshResourceMetrics republishes the resources-by-state gauge from the
// store. Called periodically by the daemon.
func (s *Service) RefreshResourceMetrics(ctx context.Context) error {
	counts, err := s.store.CountResourcesByState(ctx)
	if err != nil {
		return err
	}
	for _, state := range []resource.State{
		resource.StateCreating, resource.StateReady, resource.StateUpdating,
		resource.StateDeleting, resource.StateBroken,
	} {
		s.metrics.SetResourceCount(string(state), float64(counts[state]))
	}
	return nil
}

// requireIdle is the busy gate: a resource with an operation in progress
// rejects further mutations at submission time.
func (s *Service) requireIdle(r *resource.Resource) error {
	if r.State.Busy() {
		return resource.NewResourceBusyError(
			fmt.Sprintf("resource is %s under flight %s", r.State, r.FlightID)).
			WithIdentity(r.WorkspaceID.String(), r.ResourceID.String())
	}
	return nil
}

func (s *Service) flightInputs(r *resource.Resource, project, cluster, prevState string, update *stores.ResourceUpdate) (map[string]json.RawMessage, error) {
	encoded, err := resource.Marshal(r)
	if err != nil {
		return nil, err
	}
	inputs := map[string]json.RawMessage{
		inputResource: encoded,
	}
	params := map[string]any{}
	if project != "" {
		params[inputProject] = project
	}
	if cluster != "" {
		params[inputCluster] = cluster
	}
	if prevState != "" {
		params[inputPrevState] = prevState
	}
	if update != nil {
		params[inputUpdate] = updateParams{
			Name:        update.Name,
			Description: update.Description,
			Properties:  update.Properties,
			Attributes:  update.Attributes,
		}
	}
	extra, err := flight.MarshalInputs(params)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		inputs[k] = v
	}
	return inputs, nil
}

func (s *Service) publishStateChange(r *resource.Resource, flightID, message string) {
	s.events.Publish(telemetry.Event{
		Type:        telemetry.EventTypeResourceStateChange,
		FlightID:    flightID,
		WorkspaceID: r.WorkspaceID.String(),
		ResourceID:  r.ResourceID.String(),
		Message:     message,
		Level:       "info",
	})
}
