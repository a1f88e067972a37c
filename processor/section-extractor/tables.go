package sectionextractor

import (
	"fmt"
	"strings"

	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/vocabulary/entities"
)

// tableConfidence is assigned to extractions materialized from imported
// table rows rather than model output.
const tableConfidence = 0.95

// ModelVersionTables marks extractions materialized without a model.
const ModelVersionTables = "table_import"

// BuildSOVFields materializes a sov section extraction from imported
// statement-of-values rows.
func BuildSOVFields(items []storage.SOVItem) map[string]any {
	locations := make([]any, 0, len(items))
	ents := make([]any, 0, len(items))
	for _, it := range items {
		loc := map[string]any{
			"location_number": it.LocationNumber,
			"address":         it.Address,
			"city":            it.City,
			"state":           it.State,
			"zip":             it.Zip,
			"building_value":  it.BuildingValue,
			"contents_value":  it.ContentsValue,
			"tiv":             it.TIV,
		}
		for k, v := range it.Attributes {
			if _, taken := loc[k]; !taken {
				loc[k] = v
			}
		}
		locations = append(locations, loc)

		value := strings.TrimSpace(it.Address)
		if value == "" {
			value = fmt.Sprintf("location %s", it.LocationNumber)
		}
		ents = append(ents, map[string]any{
			"entity_type": entities.Location,
			"value":       value,
			"confidence":  tableConfidence,
			"attributes":  loc,
		})
	}
	return map[string]any{
		"locations":  locations,
		"entities":   ents,
		"confidence": tableConfidence,
	}
}

// BuildLossRunFields materializes a loss_run section extraction from
// imported claim rows.
func BuildLossRunFields(claims []storage.LossRunClaim) map[string]any {
	out := make([]any, 0, len(claims))
	ents := make([]any, 0, len(claims))
	for _, cl := range claims {
		claim := map[string]any{
			"claim_number":    cl.ClaimNumber,
			"status":          cl.Status,
			"cause_of_loss":   cl.CauseOfLoss,
			"paid_amount":     cl.PaidAmount,
			"reserved_amount": cl.ReservedAmount,
			"incurred_amount": cl.IncurredAmount,
		}
		if cl.DateOfLoss != nil {
			claim["date_of_loss"] = cl.DateOfLoss.Format("2006-01-02")
		}
		for k, v := range cl.Attributes {
			if _, taken := claim[k]; !taken {
				claim[k] = v
			}
		}
		out = append(out, claim)

		ents = append(ents, map[string]any{
			"entity_type": entities.Claim,
			"value":       cl.ClaimNumber,
			"confidence":  tableConfidence,
			"attributes":  claim,
		})
	}
	return map[string]any{
		"claims":     out,
		"entities":   ents,
		"confidence": tableConfidence,
	}
}

// tablePageRange is the page span covered by the given tables.
func tablePageRange(tables []storage.DocumentTable) storage.PageRange {
	pr := storage.PageRange{}
	for _, t := range tables {
		if pr.Start == 0 || t.PageNumber < pr.Start {
			pr.Start = t.PageNumber
		}
		if t.PageNumber > pr.End {
			pr.End = t.PageNumber
		}
	}
	return pr
}
