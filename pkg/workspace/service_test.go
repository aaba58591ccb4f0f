package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/openwsm/openwsm/pkg/cloud/cloudtest"
	"github.com/openwsm/openwsm/pkg/flight"
	"github.com/openwsm/openwsm/pkg/resource"
	"github.com/openwsm/openwsm/pkg/stores"
	"github.com/openwsm/openwsm/pkg/telemetry"
)

// fixture wires a real sqlite store, the fake cloud, the flight engine and
// the service together. Flights are driven synchronously via RunSync so
// tests control exactly when each flight executes.
type fixture struct {
	store *stores.SQLStore
	cloud *cloudtest.Fake
	sched *flight.Scheduler
	svc   *Service
}

func setupService(t *testing.T, rule resource.StateRule) *fixture {
	t.Helper()

	tel := telemetry.NewTestTelemetry()
	store, err := stores.NewSQLStore(stores.DriverSQLite, ":memory:", tel)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fake := cloudtest.NewFake()
	registry := flight.NewRegistry()
	RegisterFlights(registry, Deps{Store: store, Cloud: fake, Rule: rule})
	runner := flight.NewRunner(store, tel)
	sched := flight.NewScheduler(store, registry, runner, tel, 1)

	svc, err := NewService(store, fake, sched, rule, tel)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return &fixture{store: store, cloud: fake, sched: sched, svc: svc}
}

func (f *fixture) addCloudContext(t *testing.T, workspaceID uuid.UUID, platform resource.CloudPlatform) {
	t.Helper()
	err := f.svc.CreateCloudContext(context.Background(), workspaceID, platform,
		json.RawMessage(`{"project":"test-project"}`))
	if err != nil {
		t.Fatalf("failed to create cloud context: %v", err)
	}
}

func (f *fixture) runFlight(t *testing.T, flightID string) flight.State {
	t.Helper()
	status, _ := f.sched.RunSync(context.Background(), flightID)
	return status
}

func bucketCreateRequest(workspaceID uuid.UUID, name string) CreateControlledResourceRequest {
	return CreateControlledResourceRequest{
		WorkspaceID: workspaceID,
		Name:        name,
		Description: "analysis outputs",
		Attributes:  &resource.GcsBucketAttributes{BucketName: name + "-bucket"},
		Project:     "test-project",
	}
}

func TestCreateControlledResourceFlightSucceeds(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	r, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if flightID == "" {
		t.Fatal("expected a flight id")
	}

	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("expected SUCCESS, got %s", status)
	}

	stored, err := fx.svc.GetResource(ctx, ws, r.ResourceID)
	if err != nil {
		t.Fatalf("resource not stored: %v", err)
	}
	if stored.State != resource.StateReady {
		t.Fatalf("expected READY, got %s", stored.State)
	}
	if stored.FlightID != "" {
		t.Fatalf("flight id should clear on READY, got %q", stored.FlightID)
	}
	if !fx.cloud.BucketExistsNow("test-project", "outputs-bucket") {
		t.Fatal("cloud bucket was not created")
	}
}

// A crash can land between the final step's Do and its checkpoint. On
// resume the runner re-invokes that step, so the repeated READY transition
// must converge to success instead of compensating a finished creation.
func TestCreateFlightReplayOfFinalStepConverges(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	r, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("expected SUCCESS, got %s", status)
	}

	// Rewind to the mark-ready step with its checkpoint lost.
	if err := fx.store.Checkpoint(ctx, flightID, flight.StateRunningForward, 3, nil); err != nil {
		t.Fatalf("rewind failed: %v", err)
	}
	status, cause := fx.sched.RunSync(ctx, flightID)
	if status != flight.StateSuccess {
		t.Fatalf("replayed flight should converge to SUCCESS, got %s (cause=%v)", status, cause)
	}

	stored, err := fx.svc.GetResource(ctx, ws, r.ResourceID)
	if err != nil {
		t.Fatalf("resource lost after replay: %v", err)
	}
	if stored.State != resource.StateReady {
		t.Fatalf("expected READY after replay, got %s", stored.State)
	}
	if !fx.cloud.BucketExistsNow("test-project", "outputs-bucket") {
		t.Fatal("cloud bucket must survive the replay")
	}
}

func TestCreateControlledResourceRequiresCloudContext(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()

	// The precondition fails synchronously: no flight is started and
	// nothing is created.
	_, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if !resource.IsCloudContextRequired(err) {
		t.Fatalf("expected a cloud-context precondition failure, got %v", err)
	}
	if flightID != "" {
		t.Fatalf("no flight should start, got %s", flightID)
	}
	if fx.cloud.BucketExistsNow("test-project", "outputs-bucket") {
		t.Fatal("no cloud object should exist")
	}
}

func TestCreateCompensationDeleteOnFailure(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)
	fx.cloud.FailStatusNext("CreateBucket", http.StatusBadRequest)

	r, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateError {
		t.Fatalf("expected ERROR, got %s", status)
	}

	// DELETE_ON_FAILURE: compensation removed the metadata row.
	if _, err := fx.svc.GetResource(ctx, ws, r.ResourceID); !resource.IsNotFound(err) {
		t.Fatalf("row should be deleted, got %v", err)
	}
}

func TestCreateCompensationBrokenOnFailure(t *testing.T) {
	fx := setupService(t, resource.StateRuleBrokenOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)
	fx.cloud.FailStatusNext("CreateBucket", http.StatusBadRequest)

	r, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateError {
		t.Fatalf("expected ERROR, got %s", status)
	}

	// BROKEN_ON_FAILURE: the row survives in BROKEN with the cause recorded.
	stored, err := fx.svc.GetResource(ctx, ws, r.ResourceID)
	if err != nil {
		t.Fatalf("row should survive: %v", err)
	}
	if stored.State != resource.StateBroken {
		t.Fatalf("expected BROKEN, got %s", stored.State)
	}
	if stored.StateError == "" {
		t.Fatal("broken resource should record its failure")
	}
}

func TestCreateTreatsExistingCloudObjectAsDone(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	// 409 means the object already exists; the step treats it as done, so a
	// resumed flight converges instead of failing.
	if err := fx.cloud.Buckets().CreateBucket(ctx, "test-project", "outputs-bucket", "US", ""); err != nil {
		t.Fatalf("seeding bucket failed: %v", err)
	}

	_, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("already-exists should read as done, got %s", status)
	}
}

func TestCreateControlledResourceDuplicateNameFastFails(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	_, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("expected SUCCESS, got %s", status)
	}

	if _, _, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs")); !resource.IsDuplicate(err) {
		t.Fatalf("expected duplicate-name rejection, got %v", err)
	}
}

func TestCreateRejectsReferencedAttributes(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	req := CreateControlledResourceRequest{
		WorkspaceID: uuid.New(),
		Name:        "repo",
		Attributes:  &resource.GitRepoAttributes{GitRepoURL: "https://example.com/repo.git"},
	}
	if _, _, err := fx.svc.CreateControlledResource(context.Background(), req); err == nil {
		t.Fatal("a referenced type must not pass the controlled create path")
	}
}

func TestDeleteControlledResource(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	r, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("create flight failed: %s", status)
	}

	deleteID, err := fx.svc.DeleteResource(ctx, DeleteResourceRequest{
		WorkspaceID: ws, ResourceID: r.ResourceID, Project: "test-project",
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if status := fx.runFlight(t, deleteID); status != flight.StateSuccess {
		t.Fatalf("delete flight failed: %s", status)
	}

	if _, err := fx.svc.GetResource(ctx, ws, r.ResourceID); !resource.IsNotFound(err) {
		t.Fatalf("row should be gone, got %v", err)
	}
	if fx.cloud.BucketExistsNow("test-project", "outputs-bucket") {
		t.Fatal("cloud bucket should be gone")
	}
}

func TestDeleteNamespaceAwaitsTermination(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformAzure)

	req := CreateControlledResourceRequest{
		WorkspaceID: ws,
		Name:        "workloads",
		Attributes:  &resource.AzureKubernetesNamespaceAttributes{NamespaceName: "ws-workloads"},
		Cluster:     "aks-test",
	}
	r, flightID, err := fx.svc.CreateControlledResource(ctx, req)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("create flight failed: %s", status)
	}
	if !fx.cloud.NamespaceExistsNow("aks-test", "ws-workloads") {
		t.Fatal("namespace not created")
	}

	// The fake reports the namespace still terminating on the first poll, so
	// the await step exercises its retry rule before the flight finishes.
	deleteID, err := fx.svc.DeleteResource(ctx, DeleteResourceRequest{
		WorkspaceID: ws, ResourceID: r.ResourceID, Cluster: "aks-test",
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if status := fx.runFlight(t, deleteID); status != flight.StateSuccess {
		t.Fatalf("delete flight failed: %s", status)
	}
	if fx.cloud.NamespaceExistsNow("aks-test", "ws-workloads") {
		t.Fatal("namespace should be gone")
	}
	if _, err := fx.svc.GetResource(ctx, ws, r.ResourceID); !resource.IsNotFound(err) {
		t.Fatalf("row should be gone, got %v", err)
	}
}

func TestMutationsRejectBusyResource(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	// Submit a create but do not run its flight: the row does not exist yet,
	// so instead seed a CREATING row directly, as a half-finished flight
	// would leave it.
	r := &resource.Resource{
		WorkspaceID: ws,
		ResourceID:  uuid.New(),
		Name:        "inflight",
		Type:        resource.TypeControlledGcpGcsBucket,
		Cloning:     resource.CloneNothing,
		AccessScope: resource.AccessScopeShared,
		ManagedBy:   resource.ManagedByUser,
		Attributes:  &resource.GcsBucketAttributes{BucketName: "inflight-bucket"},
		State:       resource.StateCreating,
		FlightID:    "f-busy",
	}
	if err := fx.store.CreateControlledResource(ctx, r); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := fx.svc.DeleteResource(ctx, DeleteResourceRequest{WorkspaceID: ws, ResourceID: r.ResourceID})
	if !resource.IsBusy(err) {
		t.Fatalf("expected busy rejection on delete, got %v", err)
	}

	name := "renamed"
	_, err = fx.svc.UpdateResource(ctx, UpdateResourceRequest{
		WorkspaceID: ws, ResourceID: r.ResourceID,
		Update: stores.ResourceUpdate{Name: &name},
	})
	if !resource.IsBusy(err) {
		t.Fatalf("expected busy rejection on update, got %v", err)
	}
}

func TestUpdateControlledResourceFlight(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	r, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("create flight failed: %s", status)
	}

	name, desc := "renamed", "updated description"
	updateID, err := fx.svc.UpdateResource(ctx, UpdateResourceRequest{
		WorkspaceID: ws, ResourceID: r.ResourceID,
		Update: stores.ResourceUpdate{Name: &name, Description: &desc},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if status := fx.runFlight(t, updateID); status != flight.StateSuccess {
		t.Fatalf("update flight failed: %s", status)
	}

	stored, err := fx.svc.GetResource(ctx, ws, r.ResourceID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Name != "renamed" || stored.Description != "updated description" {
		t.Fatalf("update not applied: %q %q", stored.Name, stored.Description)
	}
	if stored.State != resource.StateReady {
		t.Fatalf("expected READY after update, got %s", stored.State)
	}
}

func TestUpdateRejectsEmptyChange(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	_, err := fx.svc.UpdateResource(context.Background(), UpdateResourceRequest{
		WorkspaceID: uuid.New(), ResourceID: uuid.New(),
	})
	if !resource.IsInvariant(err) {
		t.Fatalf("expected invariant rejection, got %v", err)
	}
}

// Compensating an update must roll back every column the update touched,
// the attribute blob included.
func TestUpdateCompensationRestoresAttributes(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	r, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("create flight failed: %s", status)
	}

	newDesc := "relocated outputs"
	step := &updateMetadataStep{
		store: fx.store,
		res:   r,
		update: stores.ResourceUpdate{
			Description: &newDesc,
			Attributes:  json.RawMessage(`{"bucket_name":"outputs-bucket","location":"EU"}`),
		},
	}
	fc := flight.NewContext("update-flight", nil, nil)
	if res := step.Do(ctx, fc); res.Status != flight.StatusSuccess {
		t.Fatalf("update step failed: %v", res.Err)
	}

	mid, err := fx.svc.GetResource(ctx, ws, r.ResourceID)
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if attrs := mid.Attributes.(*resource.GcsBucketAttributes); attrs.Location != "EU" {
		t.Fatalf("attributes not applied: %+v", attrs)
	}

	if res := step.Undo(ctx, fc); res.Status != flight.StatusSuccess {
		t.Fatalf("undo failed: %v", res.Err)
	}
	restored, err := fx.svc.GetResource(ctx, ws, r.ResourceID)
	if err != nil {
		t.Fatalf("get after undo failed: %v", err)
	}
	if attrs := restored.Attributes.(*resource.GcsBucketAttributes); attrs.Location != "" {
		t.Fatalf("attributes not rolled back: %+v", attrs)
	}
	if restored.Description != "analysis outputs" {
		t.Fatalf("description not rolled back: %q", restored.Description)
	}
}

func TestReferencedResourceLifecycle(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()

	// No cloud context needed: references never touch the cloud.
	r, err := fx.svc.CreateReferencedResource(ctx, CreateReferencedResourceRequest{
		WorkspaceID: ws,
		Name:        "shared-data",
		Attributes:  &resource.ReferencedGcsBucketAttributes{BucketName: "shared-data-bucket"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if r.State != resource.StateReady {
		t.Fatalf("references are READY on creation, got %s", r.State)
	}

	// Updates apply synchronously, no flight.
	desc := "shared input data"
	updateID, err := fx.svc.UpdateResource(ctx, UpdateResourceRequest{
		WorkspaceID: ws, ResourceID: r.ResourceID,
		Update: stores.ResourceUpdate{Description: &desc},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updateID != "" {
		t.Fatal("referenced update should not launch a flight")
	}
	stored, _ := fx.svc.GetResource(ctx, ws, r.ResourceID)
	if stored.Description != desc {
		t.Fatalf("update not applied: %q", stored.Description)
	}

	deleteID, err := fx.svc.DeleteResource(ctx, DeleteResourceRequest{WorkspaceID: ws, ResourceID: r.ResourceID})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleteID != "" {
		t.Fatal("referenced delete should not launch a flight")
	}
	if _, err := fx.svc.GetResource(ctx, ws, r.ResourceID); !resource.IsNotFound(err) {
		t.Fatalf("row should be gone, got %v", err)
	}
}

func TestCreateReferencedRejectsControlledAttributes(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	_, err := fx.svc.CreateReferencedResource(context.Background(), CreateReferencedResourceRequest{
		WorkspaceID: uuid.New(),
		Name:        "not-a-reference",
		Attributes:  &resource.GcsBucketAttributes{BucketName: "b"},
	})
	if err == nil {
		t.Fatal("a controlled type must not pass the referenced create path")
	}
}

func TestRefreshResourceMetrics(t *testing.T) {
	fx := setupService(t, resource.StateRuleDeleteOnFailure)
	ctx := context.Background()
	ws := uuid.New()
	fx.addCloudContext(t, ws, resource.PlatformGCP)

	_, flightID, err := fx.svc.CreateControlledResource(ctx, bucketCreateRequest(ws, "outputs"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if status := fx.runFlight(t, flightID); status != flight.StateSuccess {
		t.Fatalf("create flight failed: %s", status)
	}
	if err := fx.svc.RefreshResourceMetrics(ctx); err != nil {
		t.Fatalf("metrics refresh failed: %v", err)
	}
}
