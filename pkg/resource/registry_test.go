package resource

import (
	"encoding/json"
	"testing"
)

func TestLookupUnknownTypeIsClassified(t *testing.T) {
	_, err := Lookup("CONTROLLED_GCP_TIME_MACHINE")
	if !IsUnknownType(err) {
		t.Fatalf("expected an unknown-type error, got %v", err)
	}
}

func TestRegistryIsClosedAndComplete(t *testing.T) {
	want := map[Type]Stewardship{
		TypeControlledGcpGcsBucket:          StewardshipControlled,
		TypeControlledGcpBigQueryDataset:    StewardshipControlled,
		TypeControlledAzureStorageContainer: StewardshipControlled,
		TypeControlledAzureKubernetesNS:     StewardshipControlled,
		TypeReferencedGcpGcsBucket:          StewardshipReferenced,
		TypeReferencedGitRepo:               StewardshipReferenced,
	}
	types := Types()
	if len(types) != len(want) {
		t.Fatalf("registry holds %d types, want %d: %v", len(types), len(want), types)
	}
	for typ, stewardship := range want {
		d, err := Lookup(typ)
		if err != nil {
			t.Fatalf("lookup %s failed: %v", typ, err)
		}
		if d.Stewardship != stewardship {
			t.Errorf("%s stewardship = %s, want %s", typ, d.Stewardship, stewardship)
		}
		if d.Handler == nil {
			t.Errorf("%s has no decode handler", typ)
		}
	}
}

func TestDecodeAttributesDispatchesByType(t *testing.T) {
	attrs, err := DecodeAttributes(TypeControlledGcpGcsBucket, json.RawMessage(`{"bucket_name":"b"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	bucket, ok := attrs.(*GcsBucketAttributes)
	if !ok || bucket.BucketName != "b" {
		t.Fatalf("decoded %T %+v", attrs, attrs)
	}

	// Empty blob decodes to the zero attributes rather than failing.
	if _, err := DecodeAttributes(TypeReferencedGitRepo, nil); err != nil {
		t.Fatalf("empty blob should decode: %v", err)
	}

	if _, err := DecodeAttributes("UNKNOWN", json.RawMessage(`{}`)); !IsUnknownType(err) {
		t.Fatalf("expected an unknown-type error, got %v", err)
	}
}
