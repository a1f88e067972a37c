package documentclassifier

import (
	"fmt"
	"strings"
)

// PromptVersion tags persisted classifications with the prompt revision that
// produced them.
const PromptVersion = "v2"

// SystemPrompt returns the system prompt for document classification.
func SystemPrompt() string {
	return `You classify commercial insurance documents.

Given text sampled from the start of a document, determine the document type
and, where the samples make it possible, which policy sections appear on
which pages.

Valid document types:
- policy: a bound insurance policy (declarations, forms, endorsements)
- quote: a carrier or wholesaler quote/proposal
- binder: a temporary evidence of coverage pending policy issuance
- endorsement: a standalone policy change form
- sov: a statement of values / property schedule
- loss_run: a carrier loss history report
- acord_application: an ACORD application form
- certificate: a certificate of insurance
- other: anything else

Valid section names: declarations, coverages, exclusions, conditions,
definitions, endorsements, sov, loss_run, vehicle_schedule, driver_schedule.

Respond with JSON only:

{
  "document_type": "policy",
  "confidence": 0.95,
  "sections": {
    "declarations": {"start_page": 1, "end_page": 2},
    "coverages": {"start_page": 3, "end_page": 9}
  }
}

Rules:
- confidence is 0.0-1.0 and reflects how certain the samples make you.
- Omit "sections" entries you cannot place; never invent page numbers.
- Respond with the JSON object and nothing else.`
}

// UserPrompt builds the classification request for one document.
func UserPrompt(filename string, pageCount int, samples []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Filename: %s\n", filename)
	fmt.Fprintf(&sb, "Pages: %d\n\n", pageCount)
	sb.WriteString("Text samples from the document, in page order:\n\n")
	for i, s := range samples {
		fmt.Fprintf(&sb, "--- sample %d ---\n%s\n\n", i+1, s)
	}
	sb.WriteString("Classify this document.\n")
	return sb.String()
}

// formatCorrectionPrompt builds a repair message when the classification
// response isn't valid JSON.
func formatCorrectionPrompt(err error) string {
	return fmt.Sprintf(
		"Your response could not be parsed as JSON. Error: %s\n\n"+
			"Respond with ONLY a valid JSON object of this shape:\n"+
			"{\"document_type\": \"policy\", \"confidence\": 0.9, \"sections\": {\"declarations\": {\"start_page\": 1, \"end_page\": 2}}}",
		err.Error(),
	)
}
