package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/pkg/textx"
)

var conditionLabels = map[domain.Condition]string{
	domain.ConditionS: "최상 (거의 새것)",
	domain.ConditionA: "우수 (미세한 사용감)",
	domain.ConditionB: "양호 (약간의 결함)",
	domain.ConditionC: "보통 (눈에 띄는 결함)",
	domain.ConditionD: "불량 (심각한 결함)",
}

// Aggregator turns a non-empty set of per-image verdicts into a single
// ProductVerdict via a trimmed mean over the best 70% (§4.7).
type Aggregator struct {
	// KeepFraction defaults to 0.70 when zero.
	KeepFraction float64
}

// Aggregate implements §4.7's algorithm. Callers must not pass an empty
// verdicts slice for the happy path; use AggregateFailure instead when zero
// images were successfully analyzed.
func (a Aggregator) Aggregate(ctx domain.Context, verdicts []domain.ImageVerdict, failedCount, skippedCount int, timedOut bool, now time.Time) domain.ProductVerdict {
	tr := otel.Tracer("usecase.aggregator")
	_, span := tr.Start(ctx, "Aggregator.Aggregate")
	defer span.End()

	keepFraction := a.KeepFraction
	if keepFraction <= 0 {
		keepFraction = 0.70
	}

	n := len(verdicts)
	k := int(float64(n) * keepFraction)
	if k < 1 {
		k = 1
	}

	scores := make([]int, n)
	for i, v := range verdicts {
		scores[i] = domain.ConditionOrdinal[v.Condition]
	}
	sort.Ints(scores)
	topScores := scores[:k]

	sumScores := 0
	for _, s := range topScores {
		sumScores += s
	}
	avg := float64(sumScores) / float64(k)

	condition := closestCondition(avg)

	adjustments := make([]int, n)
	for i, v := range verdicts {
		adjustments[i] = v.PriceAdjustment
	}
	sort.Sort(sort.Reverse(sort.IntSlice(adjustments)))
	topAdjustments := adjustments[:k]
	sumAdj := 0
	for _, adj := range topAdjustments {
		sumAdj += adj
	}
	aggregateAdjustment := sumAdj / k // integer division truncates toward zero for Go ints

	totalDefects := 0
	for _, v := range verdicts {
		totalDefects += len(v.Defects)
	}

	totalCount := n + failedCount + skippedCount
	markdown := renderMarkdown(condition, aggregateAdjustment, verdicts, n, failedCount, skippedCount, timedOut, now)

	return domain.ProductVerdict{
		Condition:       condition,
		PriceAdjustment: aggregateAdjustment,
		TotalDefects:    totalDefects,
		Markdown:        markdown,
		CompletedAt:     now,
		TimedOut:        timedOut,
		SkippedCount:    skippedCount,
		FailedCount:     failedCount,
		ProcessedCount:  n,
		TotalCount:      totalCount,
	}
}

// AggregateFailure renders the error-markdown path for zero successful
// verdicts (§4.7).
func (a Aggregator) AggregateFailure(totalCount, processedCount, failedCount, skippedCount int, timedOut bool, now time.Time) domain.ProductVerdict {
	return domain.ProductVerdict{
		Condition:       domain.ConditionD,
		PriceAdjustment: -100,
		TotalDefects:    0,
		Markdown:        renderErrorMarkdown(totalCount, processedCount, failedCount, skippedCount, timedOut, now),
		CompletedAt:     now,
		TimedOut:        timedOut,
		SkippedCount:    skippedCount,
		FailedCount:     failedCount,
		ProcessedCount:  processedCount,
		TotalCount:      totalCount,
	}
}

// closestCondition finds the grade whose ordinal is nearest avg, ties broken
// toward the lower (better) ordinal by visiting S→D in order (§4.7 step 3).
func closestCondition(avg float64) domain.Condition {
	best := domain.ConditionOrder[0]
	bestDist := -1.0
	for _, c := range domain.ConditionOrder {
		dist := avg - float64(domain.ConditionOrdinal[c])
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = c
		}
	}
	return best
}

func renderMarkdown(condition domain.Condition, adjustment int, verdicts []domain.ImageVerdict, processed, failed, skipped int, timedOut bool, now time.Time) string {
	var b strings.Builder
	b.WriteString("# 결함 분석 결과\n\n")

	if timedOut || skipped > 0 {
		b.WriteString("⚠️ **주의**: 처리 시간 제한으로 인해 일부 이미지만 분석되었습니다.\n\n")
		fmt.Fprintf(&b, "- 전체 이미지: %d장\n", processed+failed+skipped)
		fmt.Fprintf(&b, "- 분석 완료: %d장\n", processed)
		if failed > 0 {
			fmt.Fprintf(&b, "- 분석 실패: %d장\n", failed)
		}
		if skipped > 0 {
			fmt.Fprintf(&b, "- 시간 초과로 미분석: %d장\n", skipped)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "**전체 상태 등급**: %s - %s\n\n", condition, conditionLabel(condition))

	var allDefects []domain.Defect
	for _, v := range verdicts {
		allDefects = append(allDefects, v.Defects...)
	}
	fmt.Fprintf(&b, "**발견된 결함**: %d건\n\n", len(allDefects))

	if len(allDefects) == 0 {
		b.WriteString("## ✅ 결함 없음\n\n")
		b.WriteString("분석한 이미지에서 특별한 결함이 발견되지 않았습니다.\n")
	} else {
		b.WriteString("## 🔍 발견된 결함\n\n")
		for i, d := range allDefects {
			fmt.Fprintf(&b, "%d. **%s** (%s) - %s\n", i+1, d.Type, d.Severity, textx.SanitizeText(d.Location))
			fmt.Fprintf(&b, "   - %s\n\n", textx.TrimSentence(textx.SanitizeText(d.Description), 400))
		}
	}

	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "*분석 모델: 외부 비전 모델*\n\n")
	fmt.Fprintf(&b, "*분석 일시: %s*\n", now.UTC().Format("2006-01-02 15:04:05 UTC"))

	return b.String()
}

func renderErrorMarkdown(totalImages, processedImages, failedCount, skippedCount int, timedOut bool, now time.Time) string {
	var b strings.Builder
	b.WriteString("# 결함 분석 결과\n\n")
	b.WriteString("❌ **분석 실패**: 모든 이미지 분석에 실패했습니다.\n\n")

	if timedOut {
		b.WriteString("⚠️ **원인**: 처리 시간 제한 초과\n\n")
	}

	b.WriteString("**상태 정보**:\n")
	fmt.Fprintf(&b, "- 전체 이미지: %d장\n", totalImages)
	fmt.Fprintf(&b, "- 처리 시도: %d장\n", processedImages)
	fmt.Fprintf(&b, "- 분석 실패: %d장\n", failedCount)
	if skippedCount > 0 {
		fmt.Fprintf(&b, "- 시간 초과로 미분석: %d장\n", skippedCount)
	}

	b.WriteString("\n**권장 조치**:\n")
	b.WriteString("1. 이미지 수를 줄여서 다시 시도해보세요 (권장: 10-20장)\n")
	b.WriteString("2. 이미지 파일 크기를 확인해보세요 (권장: 5MB 이하)\n")
	b.WriteString("3. 이미지 경로가 올바른지 확인해보세요\n\n")

	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "*분석 일시: %s*\n", now.UTC().Format("2006-01-02 15:04:05 UTC"))

	return b.String()
}

func conditionLabel(c domain.Condition) string {
	if label, ok := conditionLabels[c]; ok {
		return label
	}
	return "알 수 없음"
}
