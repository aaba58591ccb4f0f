package resource

import (
	"encoding/json"
)

// wireResource is the JSON form used to carry a resource through flight
// input parameters and across process restarts. Attributes ride along as a
// raw blob and are re-typed through the registry on decode.
type wireResource struct {
	Resource
	RawAttributes json.RawMessage `json:"attributes"`
}

// Marshal serializes a resource, attributes included, to JSON.
func Marshal(r *Resource) ([]byte, error) {
	raw, err := r.AttributesJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireResource{Resource: *r, RawAttributes: raw})
}

// Unmarshal deserializes a resource produced by Marshal, reconstructing the
// typed attributes via the registry and applying reserved-property policy.
func Unmarshal(data []byte) (*Resource, error) {
	var w wireResource
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewInvalidFieldError("cannot decode resource: " + err.Error())
	}
	attrs, err := DecodeAttributes(w.Type, w.RawAttributes)
	if err != nil {
		return nil, err
	}
	r := w.Resource
	r.Attributes = attrs
	r.Properties = NormalizeProperties(r.Properties)
	return &r, nil
}
