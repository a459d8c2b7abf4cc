// Package provenance produces PROV-O JSON-LD signatures describing which
// sources contributed to a catalog response.
//
// Output is deterministic for a given query ID, result set, and clock:
// object keys serialize in sorted order and contributing source URNs are
// sorted, so two identical queries yield byte-identical signatures.
package provenance

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/coreason-ai/catalog/internal/model"
)

const (
	provNS     = "http://www.w3.org/ns/prov#"
	coreasonNS = "https://coreason.ai/provenance#"
	xsdNS      = "http://www.w3.org/2001/XMLSchema#"

	// timeFormat renders UTC with microsecond precision, matching
	// xsd:dateTime expectations.
	timeFormat = "2006-01-02T15:04:05.000000Z07:00"
)

// Generator builds provenance signatures. The clock is injectable so tests
// and replay tooling can pin the activity end time.
type Generator struct {
	now func() time.Time
}

// New creates a Generator using the wall clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock creates a Generator with a fixed or fake clock.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Generate returns the JSON-LD provenance document for a completed query.
// Only sources that returned SUCCESS appear in prov:used; when no source
// succeeded the property is omitted entirely.
func (g *Generator) Generate(queryID uuid.UUID, results []model.SourceResult) (string, error) {
	activityID := "urn:coreason:activity:" + queryID.String()
	entityID := "urn:coreason:entity:response:" + queryID.String()

	var used []string
	for _, r := range results {
		if r.Status == model.StatusSuccess {
			used = append(used, r.SourceURN)
		}
	}
	sort.Strings(used)

	activity := map[string]any{
		"@id":   activityID,
		"@type": "prov:Activity",
		"prov:endedAtTime": map[string]any{
			"@value": g.now().UTC().Format(timeFormat),
			"@type":  "xsd:dateTime",
		},
	}
	if len(used) > 0 {
		refs := make([]map[string]any, len(used))
		for i, urn := range used {
			refs[i] = map[string]any{"@id": urn}
		}
		activity["prov:used"] = refs
	}

	entity := map[string]any{
		"@id":                 entityID,
		"@type":               "prov:Entity",
		"prov:wasGeneratedBy": map[string]any{"@id": activityID},
		"coreason:queryId":    queryID.String(),
	}

	doc := map[string]any{
		"@context": map[string]any{
			"prov":     provNS,
			"coreason": coreasonNS,
			"xsd":      xsdNS,
		},
		"@graph": []map[string]any{activity, entity},
	}

	// encoding/json sorts map keys, which gives the deterministic byte
	// layout downstream verifiers rely on.
	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("provenance: marshal document: %w", err)
	}
	return string(out), nil
}
