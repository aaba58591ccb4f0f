package workspace

import (
	"context"
	"fmt"

	"github.com/openwsm/openwsm/pkg/cloud"
	"github.com/openwsm/openwsm/pkg/flight"
	"github.com/openwsm/openwsm/pkg/resource"
)

// cloudResult translates a provider error into a step result. An
// already-done answer means a replayed step finds its work complete, which
// is success, not failure.
func cloudResult(err error) flight.Result {
	if err == nil || cloud.IsAlreadyDoneError(err) {
		return flight.Success()
	}
	if cloud.IsRetryable(err) {
		return flight.Retry(err)
	}
	return flight.Fatal(err)
}

// createBucketStep provisions a controlled GCS bucket.
type createBucketStep struct {
	buckets cloud.BucketClient
	project string
	attrs   *resource.GcsBucketAttributes
}

func (s *createBucketStep) Name() string { return "create-gcs-bucket" }

func (s *createBucketStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.buckets.CreateBucket(ctx, s.project, s.attrs.BucketName,
		s.attrs.Location, s.attrs.StorageClass))
}

func (s *createBucketStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.buckets.DeleteBucket(ctx, s.project, s.attrs.BucketName))
}

// deleteBucketStep tears a controlled GCS bucket down. A deleted bucket
// cannot be recreated with its data, so the undo is fatal.
type deleteBucketStep struct {
	buckets cloud.BucketClient
	project string
	attrs   *resource.GcsBucketAttributes
}

func (s *deleteBucketStep) Name() string { return "delete-gcs-bucket" }

func (s *deleteBucketStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.buckets.DeleteBucket(ctx, s.project, s.attrs.BucketName))
}

func (s *deleteBucketStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Fatal(fmt.Errorf("bucket %s cannot be restored after deletion", s.attrs.BucketName))
}

// createDatasetStep provisions a controlled BigQuery dataset.
type createDatasetStep struct {
	datasets cloud.DatasetClient
	project  string
	attrs    *resource.BigQueryDatasetAttributes
}

func (s *createDatasetStep) Name() string { return "create-bigquery-dataset" }

func (s *createDatasetStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.datasets.CreateDataset(ctx, s.project, s.attrs.DatasetName, s.attrs.Location))
}

func (s *createDatasetStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.datasets.DeleteDataset(ctx, s.project, s.attrs.DatasetName))
}

// deleteDatasetStep tears a controlled BigQuery dataset down.
type deleteDatasetStep struct {
	datasets cloud.DatasetClient
	project  string
	attrs    *resource.BigQueryDatasetAttributes
}

func (s *deleteDatasetStep) Name() string { return "delete-bigquery-dataset" }

func (s *deleteDatasetStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.datasets.DeleteDataset(ctx, s.project, s.attrs.DatasetName))
}

func (s *deleteDatasetStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Fatal(fmt.Errorf("dataset %s cannot be restored after deletion", s.attrs.DatasetName))
}

// createContainerStep provisions a controlled Azure blob container.
type createContainerStep struct {
	containers cloud.ContainerClient
	attrs      *resource.AzureStorageContainerAttributes
}

func (s *createContainerStep) Name() string { return "create-storage-container" }

func (s *createContainerStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.containers.CreateContainer(ctx, s.attrs.StorageAccountName, s.attrs.ContainerName))
}

func (s *createContainerStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.containers.DeleteContainer(ctx, s.attrs.StorageAccountName, s.attrs.ContainerName))
}

// deleteContainerStep tears a controlled Azure blob container down.
type deleteContainerStep struct {
	containers cloud.ContainerClient
	attrs      *resource.AzureStorageContainerAttributes
}

func (s *deleteContainerStep) Name() string { return "delete-storage-container" }

func (s *deleteContainerStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.containers.DeleteContainer(ctx, s.attrs.StorageAccountName, s.attrs.ContainerName))
}

func (s *deleteContainerStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Fatal(fmt.Errorf("container %s cannot be restored after deletion", s.attrs.ContainerName))
}

// createNamespaceStep provisions a Kubernetes namespace on the workspace's
// shared cluster.
type createNamespaceStep struct {
	namespaces cloud.NamespaceClient
	cluster    string
	attrs      *resource.AzureKubernetesNamespaceAttributes
}

func (s *createNamespaceStep) Name() string { return "create-kubernetes-namespace" }

func (s *createNamespaceStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.namespaces.CreateNamespace(ctx, s.cluster, s.attrs.NamespaceName))
}

func (s *createNamespaceStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.namespaces.DeleteNamespace(ctx, s.cluster, s.attrs.NamespaceName))
}

// deleteNamespaceStep issues the namespace delete. Kubernetes deletes
// namespaces asynchronously; awaitNamespaceGoneStep observes completion.
type deleteNamespaceStep struct {
	namespaces cloud.NamespaceClient
	cluster    string
	attrs      *resource.AzureKubernetesNamespaceAttributes
}

func (s *deleteNamespaceStep) Name() string { return "delete-kubernetes-namespace" }

func (s *deleteNamespaceStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.namespaces.DeleteNamespace(ctx, s.cluster, s.attrs.NamespaceName))
}

func (s *deleteNamespaceStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Fatal(fmt.Errorf("namespace %s cannot be restored after deletion", s.attrs.NamespaceName))
}

// awaitNamespaceGoneStep polls until the cluster finishes tearing the
// namespace down. Each still-terminating poll is a transient failure; the
// exponential retry rule on the step bounds how long we wait.
type awaitNamespaceGoneStep struct {
	namespaces cloud.NamespaceClient
	cluster    string
	attrs      *resource.AzureKubernetesNamespaceAttributes
}

func (s *awaitNamespaceGoneStep) Name() string { return "await-namespace-gone" }

func (s *awaitNamespaceGoneStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	gone, err := s.namespaces.NamespaceGone(ctx, s.cluster, s.attrs.NamespaceName)
	if err != nil {
		return cloudResult(err)
	}
	if !gone {
		return flight.Retry(fmt.Errorf("namespace %s is still terminating", s.attrs.NamespaceName))
	}
	return flight.Success()
}

func (s *awaitNamespaceGoneStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Success()
}

// syncPolicyStep pushes IAM policy onto the new cloud object. Policy
// propagation is eventually consistent and can take minutes, hence the
// long-sync retry rule attached where the step is assembled.
type syncPolicyStep struct {
	policies cloud.PolicyClient
	platform resource.CloudPlatform
	objectID string
}

func (s *syncPolicyStep) Name() string { return "sync-iam-policy" }

func (s *syncPolicyStep) Do(ctx context.Context, fc *flight.Context) flight.Result {
	return cloudResult(s.policies.SyncPolicy(ctx, string(s.platform), s.objectID))
}

// Undo is a no-op: policy on an object about to be compensated away is
// irrelevant, and the object-deleting undo removes it wholesale.
func (s *syncPolicyStep) Undo(ctx context.Context, fc *flight.Context) flight.Result {
	return flight.Success()
}
