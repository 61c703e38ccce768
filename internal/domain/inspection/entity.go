package inspection

import (
	"fmt"
	"strings"
)

// Image is one photograph staged for analysis.
type Image struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// AnalysisRequest dibangun ulang setiap kali user menekan run
type AnalysisRequest struct {
	Images   []Image
	Comments string
}

// AnalysisResult is the structured inspection report returned by the analysis service.
type AnalysisResult struct {
	Defect             string  `json:"defect"`
	Code               string  `json:"code"`
	Description        string  `json:"description"`
	NormativeReference string  `json:"normativeReference"`
	KTS                string  `json:"kts"`
	Measures           string  `json:"measures"`
	Priority           string  `json:"priority"`
	RepairMethods      string  `json:"repairMethods"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning,omitempty"`
}

// Validate checks the value ranges the response schema cannot express.
// Presence of required fields is checked against the JSON schema before decoding.
func (r AnalysisResult) Validate() error {
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence %v outside [0,100]", r.Confidence)
	}
	if _, ok := ParseCategory(r.KTS); !ok {
		return fmt.Errorf("kts %q carries no category I-V", firstLine(r.KTS))
	}
	return nil
}

// SplitKTS returns the category headline (first line) and the rationale lines after it.
func SplitKTS(kts string) (headline, rationale string) {
	kts = strings.TrimSpace(kts)
	if i := strings.IndexByte(kts, '\n'); i >= 0 {
		return strings.TrimSpace(kts[:i]), strings.TrimSpace(kts[i+1:])
	}
	return kts, ""
}

func firstLine(s string) string {
	h, _ := SplitKTS(s)
	return h
}
