package resource

import "encoding/json"

// AzureStorageContainerAttributes configures a controlled Azure blob
// container.
type AzureStorageContainerAttributes struct {
	// StorageAccountName is the owning storage account.
	StorageAccountName string `json:"storage_account_name"`

	// ContainerName is the container name within the account.
	ContainerName string `json:"container_name"`
}

// ResourceType implements Attributes.
func (a *AzureStorageContainerAttributes) ResourceType() Type {
	return TypeControlledAzureStorageContainer
}

// Validate implements Attributes.
func (a *AzureStorageContainerAttributes) Validate() error {
	if a.StorageAccountName == "" {
		return NewInvalidFieldError("azure container attributes require a storage account name")
	}
	if a.ContainerName == "" {
		return NewInvalidFieldError("azure container attributes require a container name")
	}
	return nil
}

// AzureKubernetesNamespaceAttributes configures a controlled namespace in a
// workspace's shared AKS cluster.
type AzureKubernetesNamespaceAttributes struct {
	// NamespaceName is the Kubernetes namespace name.
	NamespaceName string `json:"namespace_name"`

	// ManagedIdentity optionally binds the namespace to a managed identity.
	ManagedIdentity string `json:"managed_identity,omitempty"`

	// Databases lists database resource names accessible from the
	// namespace.
	Databases []string `json:"databases,omitempty"`
}

// ResourceType implements Attributes.
func (a *AzureKubernetesNamespaceAttributes) ResourceType() Type {
	return TypeControlledAzureKubernetesNS
}

// Validate implements Attributes.
func (a *AzureKubernetesNamespaceAttributes) Validate() error {
	if a.NamespaceName == "" {
		return NewInvalidFieldError("kubernetes namespace attributes require a namespace name")
	}
	return nil
}

func init() {
	register(Descriptor{
		Type:          TypeControlledAzureStorageContainer,
		Stewardship:   StewardshipControlled,
		CloudPlatform: PlatformAzure,
		Family:        FamilyContainer,
		Cloneable:     true,
		Handler: func(raw json.RawMessage) (Attributes, error) {
			return decodeInto(raw, &AzureStorageContainerAttributes{})
		},
	})
	register(Descriptor{
		Type:          TypeControlledAzureKubernetesNS,
		Stewardship:   StewardshipControlled,
		CloudPlatform: PlatformAzure,
		Family:        FamilyKubernetes,
		Cloneable:     false,
		Handler: func(raw json.RawMessage) (Attributes, error) {
			return decodeInto(raw, &AzureKubernetesNamespaceAttributes{})
		},
	})
}
