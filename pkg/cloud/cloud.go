// Package cloud defines the boundary between the orchestration core and the
// cloud SDKs. The core never calls a provider SDK directly; steps receive
// these narrow client interfaces and translate provider failures into the
// flight error model at this boundary.
package cloud

import "context"

// Service hands out cloud clients for the families of objects the service
// manages. Implementations wrap the real provider SDKs and are injected
// into steps; the orchestrator never constructs one.
type Service interface {
	// Buckets returns the GCS bucket client.
	Buckets() BucketClient

	// Datasets returns the BigQuery dataset client.
	Datasets() DatasetClient

	// Containers returns the Azure storage container client.
	Containers() ContainerClient

	// Namespaces returns the Kubernetes namespace client for the
	// workspace's shared cluster.
	Namespaces() NamespaceClient

	// Policies returns the IAM policy client.
	Policies() PolicyClient
}

// BucketClient manages GCS buckets.
type BucketClient interface {
	CreateBucket(ctx context.Context, project, name, location, storageClass string) error
	DeleteBucket(ctx context.Context, project, name string) error
	BucketExists(ctx context.Context, project, name string) (bool, error)
}

// DatasetClient manages BigQuery datasets.
type DatasetClient interface {
	CreateDataset(ctx context.Context, project, name, location string) error
	DeleteDataset(ctx context.Context, project, name string) error
}

// ContainerClient manages Azure blob containers.
type ContainerClient interface {
	CreateContainer(ctx context.Context, account, name string) error
	DeleteContainer(ctx context.Context, account, name string) error
}

// NamespaceClient manages Kubernetes namespaces. Namespace deletion is
// asynchronous on the cluster side; NamespaceGone lets a polling step
// observe completion.
type NamespaceClient interface {
	CreateNamespace(ctx context.Context, cluster, name string) error
	DeleteNamespace(ctx context.Context, cluster, name string) error
	NamespaceGone(ctx context.Context, cluster, name string) (bool, error)
}

// PolicyClient synchronizes IAM policy onto a cloud object. Policy
// propagation is eventually consistent and known to take minutes; steps
// calling SyncPolicy attach a long-sync retry rule.
type PolicyClient interface {
	SyncPolicy(ctx context.Context, platform, objectID string) error
}
