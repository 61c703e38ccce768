// Package report maps an analysis result to a display model and renders it.
package report

import (
	"strconv"
	"strings"

	"github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
)

// Accent classes used by the templates and the PDF exporter.
const (
	AccentUnknown = "kts-unknown"

	PriorityUrgent  = "priority-urgent"
	PriorityPlanned = "priority-planned"

	ConfidenceHigh   = "confidence-high"
	ConfidenceMedium = "confidence-medium"
)

// Footer is printed under every report.
const Footer = "Analysis generated based on СН 1.04.01-2020 and СП 1.04.02-2022. Verification by a licensed engineer is recommended."

var urgencyKeywords = []string{
	"immediate",
	"urgent",
	"немедлен",
	"незамедлительн",
	"срочн",
	"аварийн",
}

// View is the display model of one AnalysisResult.
type View struct {
	Defect             string
	Code               string
	Description        string
	NormativeReference string
	Measures           string
	RepairMethods      string
	Reasoning          string

	KTS          string
	Category     inspection.Category
	CategoryName string
	KTSHeadline  string
	KTSRationale string
	KTSAccent    string

	Priority       string
	PriorityAccent string
	Urgent         bool

	Confidence       float64
	ConfidenceLabel  string
	ConfidenceAccent string

	Footer string
}

// Build is pure: the same result always yields the same view.
func Build(r inspection.AnalysisResult) View {
	headline, rationale := inspection.SplitKTS(r.KTS)
	cat, _ := inspection.ParseCategory(r.KTS)
	urgent := IsUrgent(r.Priority)

	v := View{
		Defect:             r.Defect,
		Code:               r.Code,
		Description:        r.Description,
		NormativeReference: r.NormativeReference,
		Measures:           r.Measures,
		RepairMethods:      r.RepairMethods,
		Reasoning:          strings.TrimSpace(r.Reasoning),
		KTS:                r.KTS,
		Category:           cat,
		CategoryName:       cat.Label(),
		KTSHeadline:        headline,
		KTSRationale:       rationale,
		KTSAccent:          KTSAccent(r.KTS),
		Priority:           r.Priority,
		PriorityAccent:     PriorityPlanned,
		Urgent:             urgent,
		Confidence:         r.Confidence,
		ConfidenceLabel:    strconv.FormatFloat(r.Confidence, 'f', -1, 64) + "%",
		ConfidenceAccent:   ConfidenceMedium,
		Footer:             Footer,
	}
	if urgent {
		v.PriorityAccent = PriorityUrgent
	}
	if r.Confidence > 80 {
		v.ConfidenceAccent = ConfidenceHigh
	}
	return v
}

// KTSAccent returns kts-i … kts-v, or kts-unknown.
func KTSAccent(kts string) string {
	cat, ok := inspection.ParseCategory(kts)
	if !ok {
		return AccentUnknown
	}
	return "kts-" + strings.ToLower(string(cat))
}

// IsUrgent reports whether priority text contains an urgency keyword.
func IsUrgent(priority string) bool {
	p := strings.ToLower(priority)
	for _, k := range urgencyKeywords {
		if strings.Contains(p, k) {
			return true
		}
	}
	return false
}
