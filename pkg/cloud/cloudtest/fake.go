// Package cloudtest provides an in-memory cloud.Service for tests. It keeps
// real object state so idempotency behavior (already-exists, already-gone)
// is observable, and supports per-call failure injection.
package cloudtest

import (
	"context"
	"net/http"
	"sync"

	"github.com/openwsm/openwsm/pkg/cloud"
)

// Fake is an in-memory cloud.Service.
type Fake struct {
	mu sync.Mutex

	// object state, keyed per family
	buckets    map[string]bool
	datasets   map[string]bool
	containers map[string]bool
	namespaces map[string]bool

	// pendingNamespaceDeletes counts how many NamespaceGone polls remain
	// before a deleted namespace reports gone.
	pendingNamespaceDeletes map[string]int

	// FailNext injects an error for the named operation; the error is
	// consumed on first use. Keys are operation names such as
	// "CreateBucket" or "SyncPolicy".
	failNext map[string]error

	// Calls records every operation invocation in order.
	Calls []string
}

// NewFake creates an empty fake cloud.
func NewFake() *Fake {
	return &Fake{
		buckets:                 make(map[string]bool),
		datasets:                make(map[string]bool),
		containers:              make(map[string]bool),
		namespaces:              make(map[string]bool),
		pendingNamespaceDeletes: make(map[string]int),
		failNext:                make(map[string]error),
	}
}

// FailNext injects err for the next invocation of op.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = err
}

// FailStatusNext injects an APIError with the given status for op.
func (f *Fake) FailStatusNext(op string, status int) {
	f.FailNext(op, cloud.NewAPIError(status, "injected failure", nil))
}

// BucketExistsNow reports current fake-side bucket state.
func (f *Fake) BucketExistsNow(project, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[project+"/"+name]
}

// NamespaceExistsNow reports current fake-side namespace state.
func (f *Fake) NamespaceExistsNow(cluster, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.namespaces[cluster+"/"+name]
}

func (f *Fake) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, op)
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	return nil
}

func (f *Fake) create(op string, objects map[string]bool, key string) error {
	if err := f.begin(op); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if objects[key] {
		return cloud.NewAPIError(http.StatusConflict, "already exists: "+key, nil)
	}
	objects[key] = true
	return nil
}

func (f *Fake) delete(op string, objects map[string]bool, key string) error {
	if err := f.begin(op); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !objects[key] {
		return cloud.NewAPIError(http.StatusNotFound, "not found: "+key, nil)
	}
	delete(objects, key)
	return nil
}

// Buckets implements cloud.Service.
func (f *Fake) Buckets() cloud.BucketClient { return bucketClient{f} }

// Datasets implements cloud.Service.
func (f *Fake) Datasets() cloud.DatasetClient { return datasetClient{f} }

// Containers implements cloud.Service.
func (f *Fake) Containers() cloud.ContainerClient { return containerClient{f} }

// Namespaces implements cloud.Service.
func (f *Fake) Namespaces() cloud.NamespaceClient { return namespaceClient{f} }

// Policies implements cloud.Service.
func (f *Fake) Policies() cloud.PolicyClient { return policyClient{f} }

type bucketClient struct{ f *Fake }

func (c bucketClient) CreateBucket(_ context.Context, project, name, _, _ string) error {
	return c.f.create("CreateBucket", c.f.buckets, project+"/"+name)
}

func (c bucketClient) DeleteBucket(_ context.Context, project, name string) error {
	return c.f.delete("DeleteBucket", c.f.buckets, project+"/"+name)
}

func (c bucketClient) BucketExists(_ context.Context, project, name string) (bool, error) {
	if err := c.f.begin("BucketExists"); err != nil {
		return false, err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.buckets[project+"/"+name], nil
}

type datasetClient struct{ f *Fake }

func (c datasetClient) CreateDataset(_ context.Context, project, name, _ string) error {
	return c.f.create("CreateDataset", c.f.datasets, project+"/"+name)
}

func (c datasetClient) DeleteDataset(_ context.Context, project, name string) error {
	return c.f.delete("DeleteDataset", c.f.datasets, project+"/"+name)
}

type containerClient struct{ f *Fake }

func (c containerClient) CreateContainer(_ context.Context, account, name string) error {
	return c.f.create("CreateContainer", c.f.containers, account+"/"+name)
}

func (c containerClient) DeleteContainer(_ context.Context, account, name string) error {
	return c.f.delete("DeleteContainer", c.f.containers, account+"/"+name)
}

type namespaceClient struct{ f *Fake }

func (c namespaceClient) CreateNamespace(_ context.Context, cluster, name string) error {
	return c.f.create("CreateNamespace", c.f.namespaces, cluster+"/"+name)
}

func (c namespaceClient) DeleteNamespace(_ context.Context, cluster, name string) error {
	if err := c.f.delete("DeleteNamespace", c.f.namespaces, cluster+"/"+name); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	// Namespace deletion is async on a real cluster; let the first poll
	// still see it pending.
	c.f.pendingNamespaceDeletes[cluster+"/"+name] = 1
	return nil
}

func (c namespaceClient) NamespaceGone(_ context.Context, cluster, name string) (bool, error) {
	if err := c.f.begin("NamespaceGone"); err != nil {
		return false, err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	key := cluster + "/" + name
	if c.f.namespaces[key] {
		return false, nil
	}
	if remaining := c.f.pendingNamespaceDeletes[key]; remaining > 0 {
		c.f.pendingNamespaceDeletes[key] = remaining - 1
		return false, nil
	}
	return true, nil
}

type policyClient struct{ f *Fake }

func (c policyClient) SyncPolicy(_ context.Context, _, _ string) error {
	return c.f.begin("SyncPolicy")
}
