package resource

import "encoding/json"

// GcsBucketAttributes configures a controlled GCS bucket.
type GcsBucketAttributes struct {
	// BucketName is the globally unique cloud-side bucket name.
	BucketName string `json:"bucket_name"`

	// Location is the GCS location, e.g. "US-CENTRAL1".
	Location string `json:"location,omitempty"`

	// StorageClass is the default storage class for objects.
	StorageClass string `json:"storage_class,omitempty"`
}

// ResourceType implements Attributes.
func (a *GcsBucketAttributes) ResourceType() Type { return TypeControlledGcpGcsBucket }

// Validate implements Attributes.
func (a *GcsBucketAttributes) Validate() error {
	if a.BucketName == "" {
		return NewInvalidFieldError("gcs bucket attributes require a bucket name")
	}
	return nil
}

// BigQueryDatasetAttributes configures a controlled BigQuery dataset.
type BigQueryDatasetAttributes struct {
	// DatasetName is the cloud-side dataset id, unique within the project.
	DatasetName string `json:"dataset_name"`

	// Location is the BigQuery location.
	Location string `json:"location,omitempty"`

	// DefaultTableLifetimeSeconds expires tables after this long; zero
	// means no expiry.
	DefaultTableLifetimeSeconds int64 `json:"default_table_lifetime_seconds,omitempty"`
}

// ResourceType implements Attributes.
func (a *BigQueryDatasetAttributes) ResourceType() Type { return TypeControlledGcpBigQueryDataset }

// Validate implements Attributes.
func (a *BigQueryDatasetAttributes) Validate() error {
	if a.DatasetName == "" {
		return NewInvalidFieldError("bigquery dataset attributes require a dataset name")
	}
	if a.DefaultTableLifetimeSeconds < 0 {
		return NewInvalidFieldError("default table lifetime must not be negative")
	}
	return nil
}

func init() {
	register(Descriptor{
		Type:          TypeControlledGcpGcsBucket,
		Stewardship:   StewardshipControlled,
		CloudPlatform: PlatformGCP,
		Family:        FamilyBucket,
		Cloneable:     true,
		Handler: func(raw json.RawMessage) (Attributes, error) {
			return decodeInto(raw, &GcsBucketAttributes{})
		},
	})
	register(Descriptor{
		Type:          TypeControlledGcpBigQueryDataset,
		Stewardship:   StewardshipControlled,
		CloudPlatform: PlatformGCP,
		Family:        FamilyDataset,
		Cloneable:     true,
		Handler: func(raw json.RawMessage) (Attributes, error) {
			return decodeInto(raw, &BigQueryDatasetAttributes{})
		},
	})
}
