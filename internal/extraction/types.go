// Package extraction turns a completed consultation transcript into clinical
// artifacts. Stages are independent: one failing stage is recorded and the
// rest still run, so a transient model error costs one document, not all.
package extraction

// Result reports what one pipeline run produced. Identifier fields are empty
// when the corresponding stage failed or did not apply.
type Result struct {
	SessionID string `json:"session_id"`

	VisitRecordID     string   `json:"visit_record_id,omitempty"`
	SOAPNoteID        string   `json:"soap_note_id,omitempty"`
	EHREntryID        string   `json:"ehr_entry_id,omitempty"`
	SummaryID         string   `json:"summary_id,omitempty"`
	ClinicalLetterIDs []string `json:"clinical_letter_ids,omitempty"`
	PatientUpdated    bool     `json:"patient_updated"`

	// Skipped is set when the transcript was too short to extract from.
	Skipped bool `json:"skipped"`

	// Errors holds one message per failed stage.
	Errors []string `json:"errors,omitempty"`
}

// Failed reports whether any stage failed.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}
