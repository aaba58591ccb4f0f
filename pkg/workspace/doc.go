// Package workspace is the orchestration surface over workspace resources.
// It assembles the flights that provision, update and tear down controlled
// cloud resources, registers their classes with the flight engine, and
// exposes the synchronous submission API with its busy-resource gate.
// Referenced resources take the fast path: they involve no cloud mutation,
// so their operations run synchronously against the store.
package workspace
