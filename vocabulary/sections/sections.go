package sections

// Section types recognized by the classifier and extraction pipeline.
const (
	Declarations    = "declarations"
	Coverages       = "coverages"
	Exclusions      = "exclusions"
	Conditions      = "conditions"
	Definitions     = "definitions"
	Endorsements    = "endorsements"
	SOV             = "sov"
	LossRun         = "loss_run"
	VehicleSchedule = "vehicle_schedule"
	DriverSchedule  = "driver_schedule"
	Other           = "other"
)

// Table types produced by the table-extraction backend.
const (
	TablePropertySOV      = "property_sov"
	TableLossRun          = "loss_run"
	TablePremiumSchedule  = "premium_schedule"
	TableCoverageSchedule = "coverage_schedule"
)

// EntityTypeChunk is the embedding entity type for raw document chunks, as
// opposed to the section-derived entity types below.
const EntityTypeChunk = "chunk"

var all = []string{
	Declarations, Coverages, Exclusions, Conditions, Definitions,
	Endorsements, SOV, LossRun, VehicleSchedule, DriverSchedule, Other,
}

// listKeys maps list-based sections to the child-list key inside
// extracted_fields. Sections absent here are single-record sections whose
// whole extraction is templated as one unit.
var listKeys = map[string]string{
	Coverages:       "coverages",
	Exclusions:      "exclusions",
	Conditions:      "conditions",
	Definitions:     "definitions",
	Endorsements:    "endorsements",
	SOV:             "locations",
	LossRun:         "claims",
	VehicleSchedule: "vehicles",
	DriverSchedule:  "drivers",
}

// entityTypes maps a section to the embedding entity type of its indexed
// records.
var entityTypes = map[string]string{
	Declarations:    "declaration",
	Coverages:       "coverage",
	Exclusions:      "exclusion",
	Conditions:      "condition",
	Definitions:     "definition",
	Endorsements:    "endorsement",
	SOV:             "location",
	LossRun:         "claim",
	VehicleSchedule: "vehicle",
	DriverSchedule:  "driver",
}

// IsValid reports whether s is a known section type.
func IsValid(s string) bool {
	for _, v := range all {
		if v == s {
			return true
		}
	}
	return false
}

// All returns the known section types in stable order.
func All() []string {
	out := make([]string, len(all))
	copy(out, all)
	return out
}

// ListKey returns the extracted_fields key holding the section's child list,
// and whether the section is list-based at all.
func ListKey(section string) (string, bool) {
	k, ok := listKeys[section]
	return k, ok
}

// EntityType returns the embedding entity type for records of the given
// section, defaulting to the section name itself for unknown sections.
func EntityType(section string) string {
	if t, ok := entityTypes[section]; ok {
		return t
	}
	return section
}
