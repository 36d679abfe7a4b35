package analyzer

import (
	"encoding/json"
	"strings"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// rawVerdict mirrors the JSON schema the system prompt asks for.
type rawVerdict struct {
	Defects []struct {
		Type        string  `json:"type"`
		Severity    string  `json:"severity"`
		Location    string  `json:"location"`
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence"`
	} `json:"defects"`
	OverallCondition           string  `json:"overall_condition"`
	RecommendedPriceAdjustment int     `json:"recommended_price_adjustment"`
	AnalysisConfidence         float64 `json:"analysis_confidence"`
}

// defaultVerdict is returned, Defaulted=true, whenever the response can't be
// parsed as the expected schema (§4.5) — never an error.
func defaultVerdict(imageRef string) domain.ImageVerdict {
	return domain.ImageVerdict{
		ImageRef:        imageRef,
		Defects:         nil,
		Condition:       domain.ConditionC,
		PriceAdjustment: -20,
		Confidence:      0.5,
		Defaulted:       true,
	}
}

// extractJSON strips a ```json ... ``` or bare ``` ... ``` fence if present,
// then finds the first balanced {...} object in what remains.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "```json") {
		parts := strings.SplitN(s, "```json", 2)
		if len(parts) == 2 {
			if end := strings.Index(parts[1], "```"); end >= 0 {
				s = strings.TrimSpace(parts[1][:end])
			} else {
				s = strings.TrimSpace(parts[1])
			}
		}
	} else if strings.Contains(s, "```") {
		parts := strings.SplitN(s, "```", 2)
		if len(parts) == 2 {
			if end := strings.Index(parts[1], "```"); end >= 0 {
				s = strings.TrimSpace(parts[1][:end])
			} else {
				s = strings.TrimSpace(parts[1])
			}
		}
	}
	return extractFirstJSONObject(s)
}

func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func severityFromKorean(s string) domain.Severity {
	switch s {
	case "상":
		return domain.SeverityHigh
	case "중":
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func conditionOrDefault(s string) domain.Condition {
	c := domain.Condition(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := domain.ConditionOrdinal[c]; ok {
		return c
	}
	return domain.ConditionC
}

func clampAdjustment(n int) int {
	if n > 0 {
		return 0
	}
	if n < -50 {
		return -50
	}
	return n
}

func clampConfidence(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// parseVerdict parses a raw model response into an ImageVerdict, falling
// back to defaultVerdict on any schema or JSON error.
func parseVerdict(imageRef, raw string) domain.ImageVerdict {
	js, ok := extractJSON(raw)
	if !ok {
		return defaultVerdict(imageRef)
	}
	var out rawVerdict
	if err := json.Unmarshal([]byte(js), &out); err != nil {
		return defaultVerdict(imageRef)
	}

	defects := make([]domain.Defect, 0, len(out.Defects))
	for _, d := range out.Defects {
		defects = append(defects, domain.Defect{
			Type:        d.Type,
			Severity:    severityFromKorean(d.Severity),
			Location:    d.Location,
			Description: d.Description,
			Confidence:  clampConfidence(d.Confidence),
		})
	}

	return domain.ImageVerdict{
		ImageRef:        imageRef,
		Defects:         defects,
		Condition:       conditionOrDefault(out.OverallCondition),
		PriceAdjustment: clampAdjustment(out.RecommendedPriceAdjustment),
		Confidence:      clampConfidence(out.AnalysisConfidence),
		Defaulted:       false,
	}
}
