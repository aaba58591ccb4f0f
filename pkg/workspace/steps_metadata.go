package workspace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openwsm/openwsm/pkg/flight"
	"github.com/openwsm/openwsm/pkg/resource"
	"github.com/openwsm/openwsm/pkg/stores"
)

// storeResult translates a store error into a step result. Classified
// conflicts, preconditions and invariants never resolve by retrying;
// anything else is assumed to be a transient database fault.
func storeResult(err error) flight.Result {
	if err == nil {
		return flight.Success()
	}
	if resource.IsDuplicate(err) || resource.IsCloudContextRequired(err) ||
		resource.IsNotFound(err) || resource.IsInvariant(err) {
		return flight.Fatal(err)
	}
	return flight.Retry(err)
}

// storeMetadataStep writes the CREATING metadata row as the first step of a
// create flight. Its undo is where the state rule bites: DELETE_ON_FAILURE
// removes the row, BROKEN_ON_FAILURE leaves it behind in BROKEN.
type storeMetadataStep struct {
	store stores.Store
	rule  resource.StateRule
	res   *resource.Resource
}

func (s *storeMetadataStep) Name() string { return "store-resource-metadata" }

func (s *storeMetadataStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	r := *s.res
	r.State = resource.StateCreating
	r.FlightID = fc.FlightID()

	var err error
	if r.Stewardship() == resource.StewardshipReferenced {
		err = s.store.CreateReferencedResource(ctx, &r)
	} else {
		err = s.store.CreateControlledResource(ctx, &r)
	}
	return storeResult(err)
}

func (s *storeMetadataStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	switch s.rule {
	case resource.StateRuleBrokenOnFailure:
		err := s.store.UpdateResourceState(ctx, s.res.WorkspaceID, s.res.ResourceID,
			resource.StateCreating, resource.StateBroken, fc.FlightID(), "resource creation failed")
		if err != nil {
			return flight.Fatal(err)
		}
		return flight.Success()
	default:
		if _, err := s.store.DeleteResource(ctx, s.res.WorkspaceID, s.res.ResourceID); err != nil {
			return flight.Fatal(err)
		}
		return flight.Success()
	}
}

// markReadyStep is the final step of create and update flights.
type markReadyStep struct {
	store stores.Store
	res   *resource.Resource
	from  resource.State
}

func (s *markReadyStep) Name() string { return "mark-resource-ready" }

func (s *markReadyStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	err := s.store.UpdateResourceState(ctx, s.res.WorkspaceID, s.res.ResourceID,
		s.from, resource.StateReady, "", "")
	return storeResult(err)
}

// Undo is a no-op: mark-ready is always the last step, so a backward pass
// never reaches it.
func (s *markReadyStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Success()
}

// markDeletingStep transitions the resource into DELETING as the first step
// of a delete flight. Deletion has no backward edge in the state machine, so
// the undo is deliberately fatal: a delete flight that fails leaves the
// resource in DELETING with the cause recorded, never silently READY again.
type markDeletingStep struct {
	store stores.Store
	res   *resource.Resource
	from  resource.State
}

func (s *markDeletingStep) Name() string { return "mark-resource-deleting" }

func (s *markDeletingStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	err := s.store.UpdateResourceState(ctx, s.res.WorkspaceID, s.res.ResourceID,
		s.from, resource.StateDeleting, fc.FlightID(), "")
	return storeResult(err)
}

func (s *markDeletingStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Fatal(fmt.Errorf("resource %s deletion cannot be rolled back", s.res.ResourceID))
}

// deleteMetadataStep removes the metadata row once the cloud object is gone.
type deleteMetadataStep struct {
	store stores.Store
	res   *resource.Resource
}

func (s *deleteMetadataStep) Name() string { return "delete-resource-metadata" }

func (s *deleteMetadataStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	// The bool is deliberately ignored: a replayed delete finds no row and
	// that is fine.
	if _, err := s.store.DeleteResource(ctx, s.res.WorkspaceID, s.res.ResourceID); err != nil {
		return storeResult(err)
	}
	return flight.Success()
}

func (s *deleteMetadataStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Fatal(fmt.Errorf("resource %s metadata row cannot be restored", s.res.ResourceID))
}

// markUpdatingStep moves READY -> UPDATING at the start of an update flight
// and back on compensation.
type markUpdatingStep struct {
	store stores.Store
	res   *resource.Resource
}

func (s *markUpdatingStep) Name() string { return "mark-resource-updating" }

func (s *markUpdatingStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	err := s.store.UpdateResourceState(ctx, s.res.WorkspaceID, s.res.ResourceID,
		resource.StateReady, resource.StateUpdating, fc.FlightID(), "")
	return storeResult(err)
}

func (s *markUpdatingStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	err := s.store.UpdateResourceState(ctx, s.res.WorkspaceID, s.res.ResourceID,
		resource.StateUpdating, resource.StateReady, "", "")
	if err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

// workingKeyPrevMetadata stores the pre-update metadata snapshot so the
// update can be reversed after a later step fails.
const workingKeyPrevMetadata = "previous-metadata"

type previousMetadata struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Properties  map[string]string `json:"properties"`
	Attributes  json.RawMessage   `json:"attributes"`
}

// updateMetadataStep applies a dynamic-column update, snapshotting the prior
// values into the working map first so Undo can restore them.
type updateMetadataStep struct {
	store  stores.Store
	res    *resource.Resource
	update stores.ResourceUpdate
}

func (s *updateMetadataStep) Name() string { return "update-resource-metadata" }

func (s *updateMetadataStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	current, err := s.store.GetResource(ctx, s.res.WorkspaceID, s.res.ResourceID)
	if err != nil {
		return storeResult(err)
	}
	attrs, err := current.AttributesJSON()
	if err != nil {
		return flight.Fatal(err)
	}
	prev := previousMetadata{
		Name:        current.Name,
		Description: current.Description,
		Properties:  current.Properties,
		Attributes:  attrs,
	}
	if err := flight.SetWorking(fc, workingKeyPrevMetadata, prev); err != nil {
		return flight.Fatal(err)
	}
	return storeResult(s.store.UpdateResource(ctx, s.res.WorkspaceID, s.res.ResourceID, s.update))
}

func (s *updateMetadataStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	prev, found, err := flight.Working[previousMetadata](fc, workingKeyPrevMetadata)
	if err != nil {
		return flight.Fatal(err)
	}
	if !found {
		// Do never reached the snapshot; nothing was changed.
		return flight.Success()
	}
	restore := stores.ResourceUpdate{
		Name:        &prev.Name,
		Description: &prev.Description,
		Properties:  prev.Properties,
		Attributes:  prev.Attributes,
	}
	if restore.Properties == nil {
		restore.Properties = map[string]string{}
	}
	if err := s.store.UpdateResource(ctx, s.res.WorkspaceID, s.res.ResourceID, restore); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}
