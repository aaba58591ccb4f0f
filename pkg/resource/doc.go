// Package resource defines the workspace resource model: the common
// metadata every provisioned or referenced entity carries, the closed
// registry of concrete resource types, and the lifecycle state machine that
// gates which operations are legal against a resource at any time.
//
// The type set is a two-axis classification: stewardship (CONTROLLED
// resources are owned and deletable by the service, REFERENCED resources
// are pointers to cloud objects it does not own) crossed with the concrete
// kind. Each concrete type registers a Descriptor holding its cloud
// platform, family, cloneable flag, and a handler that reconstructs typed
// attributes from the persisted JSON blob. Dispatch is a map lookup over a
// closed enumeration built at process start.
package resource
