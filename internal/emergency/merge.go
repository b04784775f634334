package emergency

// Merge reconciles the model-asserted verdict with the scanner's verdict.
// The result is the OR of both flags: either signal can escalate, neither
// can suppress the other. Detail attribution: if only the scanner flags, its
// details win and the source is tagged "emergency_scanner"; in every other
// case the model's details are used.
//
// The OR policy is a deliberate availability/safety trade-off, not a
// validated clinical standard; changing it requires clinical review.
//
// scannerErr marks the scanner as unresolved (failed or cancelled); the
// merge then degrades to the model's verdict alone.
func Merge(model Verdict, scanner Verdict, scannerErr error) Verdict {
	if scannerErr != nil {
		scanner = Verdict{}
	}

	out := Verdict{
		IsEmergency: model.IsEmergency || scanner.IsEmergency,
	}
	if !out.IsEmergency {
		return out
	}

	if scanner.IsEmergency && !model.IsEmergency {
		out.Details = scanner.Details
		out.Source = SourceScanner
	} else {
		out.Details = model.Details
		out.Source = SourceModel
	}
	return out
}
