package resource

import "encoding/json"

// ReferencedGcsBucketAttributes points at a GCS bucket the service does not
// own.
type ReferencedGcsBucketAttributes struct {
	// BucketName is the cloud-side bucket name being referenced.
	BucketName string `json:"bucket_name"`
}

// ResourceType implements Attributes.
func (a *ReferencedGcsBucketAttributes) ResourceType() Type { return TypeReferencedGcpGcsBucket }

// Validate implements Attributes.
func (a *ReferencedGcsBucketAttributes) Validate() error {
	if a.BucketName == "" {
		return NewInvalidFieldError("referenced gcs bucket attributes require a bucket name")
	}
	return nil
}

// GitRepoAttributes points at a git repository. Not bound to any cloud
// platform.
type GitRepoAttributes struct {
	// GitRepoURL is the clone URL of the repository.
	GitRepoURL string `json:"git_repo_url"`
}

// ResourceType implements Attributes.
func (a *GitRepoAttributes) ResourceType() Type { return TypeReferencedGitRepo }

// Validate implements Attributes.
func (a *GitRepoAttributes) Validate() error {
	if a.GitRepoURL == "" {
		return NewInvalidFieldError("git repo attributes require a repository url")
	}
	return nil
}

func init() {
	register(Descriptor{
		Type:          TypeReferencedGcpGcsBucket,
		Stewardship:   StewardshipReferenced,
		CloudPlatform: PlatformGCP,
		Family:        FamilyBucket,
		Cloneable:     true,
		Handler: func(raw json.RawMessage) (Attributes, error) {
			return decodeInto(raw, &ReferencedGcsBucketAttributes{})
		},
	})
	register(Descriptor{
		Type:          TypeReferencedGitRepo,
		Stewardship:   StewardshipReferenced,
		CloudPlatform: PlatformAny,
		Family:        FamilyGitRepo,
		Cloneable:     true,
		Handler: func(raw json.RawMessage) (Attributes, error) {
			return decodeInto(raw, &GitRepoAttributes{})
		},
	})
}
