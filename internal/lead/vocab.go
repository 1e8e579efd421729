package lead

// The spreadsheet store displays workflow state with localized labels. Two
// generations of the status vocabulary exist in recorded data: the original
// operational one (new/in_progress/contacted/completed/archived) and the
// sales-funnel one this system standardizes on. The translator is total in
// both directions and accepts labels from both generations inward.

var statusLabels = map[Status]string{
	StatusNew:           "Nouveau",
	StatusToContact:     "À contacter",
	StatusQualified:     "Qualifié",
	StatusOutOfCriteria: "Hors critères",
	StatusToRelaunch:    "À relancer",
}

var statusFromLabels = map[string]Status{
	"Nouveau":       StatusNew,
	"À contacter":   StatusToContact,
	"Qualifié":      StatusQualified,
	"Hors critères": StatusOutOfCriteria,
	"À relancer":    StatusToRelaunch,

	// Legacy display labels, still present on rows written before the
	// vocabulary change.
	"En cours": StatusToContact,
	"Contacté": StatusToRelaunch,
	"Terminé":  StatusQualified,
	"Archivé":  StatusOutOfCriteria,
}

var priorityLabels = map[Priority]string{
	PriorityLow:    "Basse",
	PriorityMedium: "Moyenne",
	PriorityHigh:   "Haute",
}

var priorityFromLabels = map[string]Priority{
	"Basse":   PriorityLow,
	"Moyenne": PriorityMedium,
	"Haute":   PriorityHigh,
}

// StatusLabel returns the display label for a status. Unknown internal
// values pass through unchanged so a partially-migrated row still renders.
func StatusLabel(s Status) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// StatusFromLabel maps a display label back to the internal status. Unknown
// labels fall back to StatusNew; this never fails.
func StatusFromLabel(label string) Status {
	if s, ok := statusFromLabels[label]; ok {
		return s
	}
	return StatusNew
}

func PriorityLabel(p Priority) string {
	if label, ok := priorityLabels[p]; ok {
		return label
	}
	return string(p)
}

func PriorityFromLabel(label string) Priority {
	if p, ok := priorityFromLabels[label]; ok {
		return p
	}
	return PriorityMedium
}

var legacyStatuses = map[Status]Status{
	"new":         StatusNew,
	"in_progress": StatusToContact,
	"contacted":   StatusToRelaunch,
	"completed":   StatusQualified,
	"archived":    StatusOutOfCriteria,
}

// MigrateLegacyStatus converts a status recorded under the retired
// operational vocabulary to its canonical equivalent. Canonical values are
// returned unchanged; anything unrecognized resets to StatusNew.
func MigrateLegacyStatus(s Status) Status {
	if s.Valid() {
		return s
	}
	if mapped, ok := legacyStatuses[s]; ok {
		return mapped
	}
	return StatusNew
}
