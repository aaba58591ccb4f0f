package resource

import (
	"testing"

	"github.com/google/uuid"
)

func validBucketResource() *Resource {
	return &Resource{
		WorkspaceID: uuid.New(),
		ResourceID:  uuid.New(),
		Name:        "outputs",
		Type:        TypeControlledGcpGcsBucket,
		Cloning:     CloneNothing,
		Attributes:  &GcsBucketAttributes{BucketName: "outputs-bucket"},
		State:       StateReady,
	}
}

func TestValidateAcceptsWellFormedResource(t *testing.T) {
	if err := validBucketResource().Validate(); err != nil {
		t.Fatalf("valid resource rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Resource)
	}{
		{"missing workspace id", func(r *Resource) { r.WorkspaceID = uuid.Nil }},
		{"missing resource id", func(r *Resource) { r.ResourceID = uuid.Nil }},
		{"empty name", func(r *Resource) { r.Name = "" }},
		{"name violating policy", func(r *Resource) { r.Name = "-starts-with-dash" }},
		{"unknown type", func(r *Resource) { r.Type = "CONTROLLED_MARS_ROVER" }},
		{"nil attributes", func(r *Resource) { r.Attributes = nil }},
		{"mismatched attributes", func(r *Resource) { r.Attributes = &GitRepoAttributes{GitRepoURL: "https://x"} }},
		{"invalid attributes", func(r *Resource) { r.Attributes = &GcsBucketAttributes{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validBucketResource()
			tc.mutate(r)
			if err := r.Validate(); !IsInvariant(err) && !IsUnknownType(err) {
				t.Fatalf("expected a classified validation error, got %v", err)
			}
		})
	}
}

func TestReferencedResourcesRejectMutatingCloning(t *testing.T) {
	for _, c := range []CloningInstructions{CloneResource, CloneDefinition} {
		if c.ValidFor(StewardshipReferenced) {
			t.Errorf("%s must be illegal for referenced resources", c)
		}
	}
	for _, c := range []CloningInstructions{CloneNothing, CloneReference} {
		if !c.ValidFor(StewardshipReferenced) {
			t.Errorf("%s must be legal for referenced resources", c)
		}
	}
	for _, c := range []CloningInstructions{CloneNothing, CloneDefinition, CloneResource, CloneReference} {
		if !c.ValidFor(StewardshipControlled) {
			t.Errorf("%s must be legal for controlled resources", c)
		}
	}
}

func TestEqualIsIdentityOnly(t *testing.T) {
	a := validBucketResource()
	b := *a
	b.Name = "renamed"
	b.Description = "changed"
	b.Lineage = []LineageEntry{{SourceWorkspaceID: uuid.New(), SourceResourceID: uuid.New()}}
	if !a.Equal(&b) {
		t.Fatal("same (workspace, resource) ids must compare equal regardless of metadata")
	}
	c := *a
	c.ResourceID = uuid.New()
	if a.Equal(&c) {
		t.Fatal("different resource ids must not compare equal")
	}
	if a.Equal(nil) {
		t.Fatal("nil is never equal")
	}
}

func TestNormalizePropertiesDropsBadFolderID(t *testing.T) {
	props := NormalizeProperties(map[string]string{
		PropertyFolderID: "not-a-uuid",
		"team":           "platform",
	})
	if _, ok := props[PropertyFolderID]; ok {
		t.Fatal("a folder-id that does not parse as a UUID must be dropped")
	}
	if props["team"] != "platform" {
		t.Fatal("other properties must survive")
	}

	id := uuid.NewString()
	props = NormalizeProperties(map[string]string{PropertyFolderID: id})
	if props[PropertyFolderID] != id {
		t.Fatal("a valid folder-id must be kept")
	}
	if NormalizeProperties(nil) != nil {
		t.Fatal("nil map stays nil")
	}
}

func TestMarshalRoundTripRetypesAttributes(t *testing.T) {
	r := validBucketResource()
	r.Properties = map[string]string{PropertyFolderID: "garbage"}
	data, err := Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	attrs, ok := got.Attributes.(*GcsBucketAttributes)
	if !ok {
		t.Fatalf("attributes decoded as %T, want *GcsBucketAttributes", got.Attributes)
	}
	if attrs.BucketName != "outputs-bucket" {
		t.Fatalf("attribute payload lost: %+v", attrs)
	}
	if _, ok := got.Properties[PropertyFolderID]; ok {
		t.Fatal("reserved-property policy must apply on load")
	}
}
