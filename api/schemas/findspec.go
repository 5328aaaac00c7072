package schemas

import "strings"

// FindSpec is a declarative match condition evaluated against vision-detected
// UI elements. Type and Region are optional narrowing filters; Text plus
// TextMatch is the primary predicate.
type FindSpec struct {
	Type      string    `json:"type,omitempty" yaml:"type,omitempty"`
	Text      string    `json:"text" yaml:"text"`
	TextMatch MatchMode `json:"text_match" yaml:"text_match"`
	Region    *Region   `json:"region,omitempty" yaml:"region,omitempty"`
}

// Matches reports whether a detected element satisfies this spec.
// Text comparison is case-insensitive in contains mode, mirroring the loose
// matching vision models need; exact mode compares verbatim.
func (f FindSpec) Matches(el DetectedElement) bool {
	if f.Type != "" && !strings.EqualFold(f.Type, el.Type) {
		return false
	}
	if f.Region != nil {
		cx, cy := el.Center()
		if !f.Region.Contains(cx, cy) {
			return false
		}
	}
	switch f.TextMatch {
	case MatchExact:
		return el.Text == f.Text
	case MatchContains, "":
		return strings.Contains(strings.ToLower(el.Text), strings.ToLower(f.Text))
	default:
		return false
	}
}

// FirstMatch returns the first element (in detection order) matching the spec.
func (f FindSpec) FirstMatch(elements []DetectedElement) (DetectedElement, bool) {
	for _, el := range elements {
		if f.Matches(el) {
			return el, true
		}
	}
	return DetectedElement{}, false
}
