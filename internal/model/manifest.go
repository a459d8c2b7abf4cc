// Package model defines the shared data types of the catalog: source
// manifests, identity contexts, per-source results, and the aggregated
// catalog response, together with their validation rules.
package model

import (
	"fmt"
	"strings"
)

// DataSensitivity classifies the data behind a source for governance.
type DataSensitivity string

const (
	SensitivityPublic    DataSensitivity = "PUBLIC"
	SensitivityInternal  DataSensitivity = "INTERNAL"
	SensitivityPII       DataSensitivity = "PII"
	SensitivityGxPLocked DataSensitivity = "GxP_LOCKED"
)

// Valid reports whether s is one of the enumerated sensitivity levels.
func (s DataSensitivity) Valid() bool {
	switch s {
	case SensitivityPublic, SensitivityInternal, SensitivityPII, SensitivityGxPLocked:
		return true
	}
	return false
}

// URNPrefix is the required prefix for source identifiers.
const URNPrefix = "urn:"

// SourceManifest is the registered description of a federated MCP source.
// The URN uniquely identifies a source: re-registering the same URN replaces
// the prior record. Manifests are never deleted by the core.
type SourceManifest struct {
	URN           string          `json:"urn"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	EndpointURL   string          `json:"endpoint_url"`
	SourcePointer map[string]any  `json:"source_pointer,omitempty"`
	ACLs          []string        `json:"acls"`
	GeoLocation   string          `json:"geo_location"`
	Sensitivity   DataSensitivity `json:"sensitivity"`
	OwnerGroup    string          `json:"owner_group"`
	AccessPolicy  string          `json:"access_policy"`
}

// Validate checks the manifest against the registration rules: the URN
// prefix, the sensitivity enum, and presence of all required fields.
// An empty ACL list is valid — it means no group grants access.
func (m SourceManifest) Validate() error {
	if !strings.HasPrefix(m.URN, URNPrefix) {
		return fmt.Errorf("urn must begin with %q (got %q)", URNPrefix, m.URN)
	}
	if len(m.URN) == len(URNPrefix) {
		return fmt.Errorf("urn must name a resource after the %q prefix", URNPrefix)
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Description == "" {
		return fmt.Errorf("description is required")
	}
	if m.EndpointURL == "" {
		return fmt.Errorf("endpoint_url is required")
	}
	if m.GeoLocation == "" {
		return fmt.Errorf("geo_location is required")
	}
	if !m.Sensitivity.Valid() {
		return fmt.Errorf("sensitivity %q is not one of PUBLIC, INTERNAL, PII, GxP_LOCKED", m.Sensitivity)
	}
	if m.OwnerGroup == "" {
		return fmt.Errorf("owner_group is required")
	}
	return nil
}
