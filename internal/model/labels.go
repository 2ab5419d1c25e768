package model

import "strings"

const (
	LabelSeparator = "___"
	UnknownCrop    = "Unknown"
	HealthyDisease = "No disease detected (Healthy)"
)

// DecodeLabel splits a "<crop>___<disease>" class name for display.
//
// Only healthy labels keep their crop: any other separated label falls back
// to crop "Unknown" with the whole raw label as the disease. Underscores in
// the disease are shown as spaces; the crop is left as is.
func DecodeLabel(raw string) (crop, disease string) {
	crop, disease = UnknownCrop, raw
	if strings.Contains(raw, LabelSeparator) {
		crop, disease, _ = strings.Cut(raw, LabelSeparator)
		if strings.Contains(strings.ToLower(disease), "healthy") {
			disease = HealthyDisease
		} else {
			crop, disease = UnknownCrop, raw
		}
	}
	return crop, strings.ReplaceAll(disease, "_", " ")
}
