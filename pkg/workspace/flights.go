package workspace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openwsm/openwsm/pkg/cloud"
	"github.com/openwsm/openwsm/pkg/flight"
	"github.com/openwsm/openwsm/pkg/resource"
	"github.com/openwsm/openwsm/pkg/stores"
)

// Flight classes registered by this package.
const (
	ClassResourceCreate = "resource-create"
	ClassResourceDelete = "resource-delete"
	ClassResourceUpdate = "resource-update"
)

// Input parameter keys. Builders run at submission and again at resume, so
// everything a flight needs must round-trip through these.
const (
	inputResource  = "resource"
	inputProject   = "project"
	inputCluster   = "cluster"
	inputPrevState = "previous_state"
	inputUpdate    = "update"
)

// Deps carries what step assembly needs. Rule is the deployment-level
// choice of what a failed creation leaves behind.
type Deps struct {
	Store stores.Store
	Cloud cloud.Service
	Rule  resource.StateRule
}

// RegisterFlights registers the resource flight classes with the engine.
// Called once at startup.
func RegisterFlights(reg *flight.Registry, deps Deps) {
	reg.Register(ClassResourceCreate, deps.buildCreate)
	reg.Register(ClassResourceDelete, deps.buildDelete)
	reg.Register(ClassResourceUpdate, deps.buildUpdate)
}

// metadataRetry bounds retries of store writes. The store is local or
// nearby; a handful of quick retries covers transient faults.
func metadataRetry() flight.RetryRule {
	return flight.RetryFixedInterval(time.Second, 5)
}

func decodeResourceInput(inputs map[string]json.RawMessage) (*resource.Resource, error) {
	raw, ok := inputs[inputResource]
	if !ok {
		return nil, fmt.Errorf("missing %q input parameter", inputResource)
	}
	return resource.Unmarshal(raw)
}

func decodeStringInput(inputs map[string]json.RawMessage, key string) (string, error) {
	raw, ok := inputs[key]
	if !ok {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("input parameter %q: %w", key, err)
	}
	return v, nil
}

// buildCreate assembles a create flight: metadata row first, then the cloud
// object, then policy, then READY. Compensation runs in reverse, so the
// cloud object is torn down before its metadata row disappears.
func (d Deps) buildCreate(inputs map[string]json.RawMessage) ([]flight.StepEntry, error) {
	r, err := decodeResourceInput(inputs)
	if err != nil {
		return nil, err
	}
	project, err := decodeStringInput(inputs, inputProject)
	if err != nil {
		return nil, err
	}
	cluster, err := decodeStringInput(inputs, inputCluster)
	if err != nil {
		return nil, err
	}

	steps := []flight.StepEntry{
		{Step: &storeMetadataStep{store: d.Store, rule: d.Rule, res: r}, Retry: metadataRetry()},
	}

	cloudSteps, err := d.cloudCreateSteps(r, project, cluster)
	if err != nil {
		return nil, err
	}
	steps = append(steps, cloudSteps...)

	steps = append(steps, flight.StepEntry{
		Step:  &markReadyStep{store: d.Store, res: r, from: resource.StateCreating},
		Retry: metadataRetry(),
	})
	return steps, nil
}

func (d Deps) cloudCreateSteps(r *resource.Resource, project, cluster string) ([]flight.StepEntry, error) {
	policy := flight.StepEntry{
		Step:  &syncPolicyStep{policies: d.Cloud.Policies(), platform: r.CloudPlatform(), objectID: r.ResourceID.String()},
		Retry: flight.RetryLongSync(),
	}

	switch attrs := r.Attributes.(type) {
	case *resource.GcsBucketAttributes:
		return []flight.StepEntry{
			{Step: &createBucketStep{buckets: d.Cloud.Buckets(), project: project, attrs: attrs},
				Retry: flight.RetryCloudDefault()},
			policy,
		}, nil
	case *resource.BigQueryDatasetAttributes:
		return []flight.StepEntry{
			{Step: &createDatasetStep{datasets: d.Cloud.Datasets(), project: project, attrs: attrs},
				Retry: flight.RetryCloudDefault()},
			policy,
		}, nil
	case *resource.AzureStorageContainerAttributes:
		return []flight.StepEntry{
			{Step: &createContainerStep{containers: d.Cloud.Containers(), attrs: attrs},
				Retry: flight.RetryCloudDefault()},
			policy,
		}, nil
	case *resource.AzureKubernetesNamespaceAttributes:
		return []flight.StepEntry{
			{Step: &createNamespaceStep{namespaces: d.Cloud.Namespaces(), cluster: cluster, attrs: attrs},
				Retry: flight.RetryCloudDefault()},
			policy,
		}, nil
	default:
		return nil, fmt.Errorf("resource type %s has no create flight", r.Type)
	}
}

// buildDelete assembles a delete flight: DELETING first, then the cloud
// teardown, then the metadata row.
func (d Deps) buildDelete(inputs map[string]json.RawMessage) ([]flight.StepEntry, error) {
	r, err := decodeResourceInput(inputs)
	if err != nil {
		return nil, err
	}
	project, err := decodeStringInput(inputs, inputProject)
	if err != nil {
		return nil, err
	}
	cluster, err := decodeStringInput(inputs, inputCluster)
	if err != nil {
		return nil, err
	}
	prev, err := decodeStringInput(inputs, inputPrevState)
	if err != nil {
		return nil, err
	}
	if prev == "" {
		return nil, fmt.Errorf("missing %q input parameter", inputPrevState)
	}

	steps := []flight.StepEntry{
		{Step: &markDeletingStep{store: d.Store, res: r, from: resource.State(prev)}, Retry: metadataRetry()},
	}

	cloudSteps, err := d.cloudDeleteSteps(r, project, cluster)
	if err != nil {
		return nil, err
	}
	steps = append(steps, cloudSteps...)

	steps = append(steps, flight.StepEntry{
		Step:  &deleteMetadataStep{store: d.Store, res: r},
		Retry: metadataRetry(),
	})
	return steps, nil
}

func (d Deps) cloudDeleteSteps(r *resource.Resource, project, cluster string) ([]flight.StepEntry, error) {
	switch attrs := r.Attributes.(type) {
	case *resource.GcsBucketAttributes:
		return []flight.StepEntry{
			{Step: &deleteBucketStep{buckets: d.Cloud.Buckets(), project: project, attrs: attrs},
				Retry: flight.RetryCloudDefault()},
		}, nil
	case *resource.BigQueryDatasetAttributes:
		return []flight.StepEntry{
			{Step: &deleteDatasetStep{datasets: d.Cloud.Datasets(), project: project, attrs: attrs},
				Retry: flight.RetryCloudDefault()},
		}, nil
	case *resource.AzureStorageContainerAttributes:
		return []flight.StepEntry{
			{Step: &deleteContainerStep{containers: d.Cloud.Containers(), attrs: attrs},
				Retry: flight.RetryCloudDefault()},
		}, nil
	case *resource.AzureKubernetesNamespaceAttributes:
		return []flight.StepEntry{
			{Step: &deleteNamespaceStep{namespaces: d.Cloud.Namespaces(), cluster: cluster, attrs: attrs},
				Retry: flight.RetryCloudDefault()},
			{Step: &awaitNamespaceGoneStep{namespaces: d.Cloud.Namespaces(), cluster: cluster, attrs: attrs},
				Retry: flight.RetryExponential(2*time.Second, 30*time.Second, 10*time.Minute)},
		}, nil
	default:
		return nil, fmt.Errorf("resource type %s has no delete flight", r.Type)
	}
}

// buildUpdate assembles a metadata update flight for a controlled resource:
// UPDATING, apply the column changes, back to READY. The update step
// snapshots prior values into the working map so compensation restores them.
func (d Deps) buildUpdate(inputs map[string]json.RawMessage) ([]flight.StepEntry, error) {
	r, err := decodeResourceInput(inputs)
	if err != nil {
		return nil, err
	}
	raw, ok := inputs[inputUpdate]
	if !ok {
		return nil, fmt.Errorf("missing %q input parameter", inputUpdate)
	}
	var update updateParams
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("input parameter %q: %w", inputUpdate, err)
	}

	return []flight.StepEntry{
		{Step: &markUpdatingStep{store: d.Store, res: r}, Retry: metadataRetry()},
		{Step: &updateMetadataStep{store: d.Store, res: r, update: update.toUpdate()}, Retry: metadataRetry()},
		{Step: &markReadyStep{store: d.Store, res: r, from: resource.StateUpdating}, Retry: metadataRetry()},
	}, nil
}

// updateParams is the JSON-safe form of a ResourceUpdate carried through
// flight inputs.
type updateParams struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	Attributes  json.RawMessage   `json:"attributes,omitempty"`
}

func (p updateParams) toUpdate() stores.ResourceUpdate {
	return stores.ResourceUpdate{
		Name:        p.Name,
		Description: p.Description,
		Properties:  p.Properties,
		Attributes:  p.Attributes,
	}
}
