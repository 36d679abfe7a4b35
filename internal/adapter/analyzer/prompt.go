package analyzer

import "strings"

// analysisSystemPrompt is the few-shot system instruction sent with every
// defect-analysis call. It is long enough to benefit from the upstream
// model's prompt caching, which is part of why it is kept as one literal
// rather than assembled at call time.
const analysisSystemPrompt = `당신은 중고 거래 플랫폼의 전문 제품 검수 전문가입니다.

## 분석 목표
제품 이미지를 분석하여 결함을 정확히 감지하고, 상태 등급과 가격 조정 비율을 제안합니다.

## 판단 기준
- **결함 유형**: 스크래치|변색|찢어짐|오염|곰팡이|얼룩|파손|주름|벗겨짐|깨짐|기타
- **심각도**: 상(교환/환불 권고)|중(재고정 가능)|하(경미, 사용 가능)
- **위치**: 정확한 위치 설명 (예: 좌상단, 중앙 우측, 뒷면 하단 등)

## 응답 형식 (JSON만, 마크다운 없음)
{
  "defects": [
    {
      "type": "스크래치",
      "severity": "중",
      "location": "우상단 모서리",
      "description": "약 3cm 길이의 선형 스크래치",
      "confidence": 0.92
    }
  ],
  "overall_condition": "B",
  "recommended_price_adjustment": -15,
  "analysis_confidence": 0.88,
  "notes": "조명: 양호, 선명도: 높음"
}

## Few-shot 예제

### 예제 1: 완벽한 상태
응답:
{
  "defects": [],
  "overall_condition": "S",
  "recommended_price_adjustment": 0,
  "analysis_confidence": 0.95,
  "notes": "새것 같은 상태, 사용감 없음"
}

### 예제 2: 경미한 결함
응답:
{
  "defects": [
    {
      "type": "스크래치",
      "severity": "하",
      "location": "좌측 하단",
      "description": "1cm 미만의 표면 스크래치, 눈에 잘 띄지 않음",
      "confidence": 0.85
    }
  ],
  "overall_condition": "A",
  "recommended_price_adjustment": -5,
  "analysis_confidence": 0.90,
  "notes": "전체적으로 양호한 상태"
}

### 예제 3: 중간 정도 결함
응답:
{
  "defects": [
    {
      "type": "얼룩",
      "severity": "중",
      "location": "앞면 중앙",
      "description": "5cm 크기의 기름 얼룩",
      "confidence": 0.88
    },
    {
      "type": "찢어짐",
      "severity": "하",
      "location": "소매 끝",
      "description": "1cm 작은 찢어짐",
      "confidence": 0.75
    }
  ],
  "overall_condition": "C",
  "recommended_price_adjustment": -30,
  "analysis_confidence": 0.85,
  "notes": "여러 결함 존재, 재고정 가능"
}

## 주의사항
- 모든 결함을 꼼꼼히 찾되, 과장하지 마세요
- 결함이 없으면 defects를 빈 배열로 반환
- overall_condition은 S/A/B/C/D 중 하나
- recommended_price_adjustment는 -50 ~ 0 범위의 정수
- analysis_confidence는 0.0 ~ 1.0 범위의 소수
- JSON 형식으로만 응답하고, 추가 설명이나 마크다운은 사용하지 마세요
- confidence는 각 결함의 확신도 (0.0~1.0)
`

// defaultCategory is the literal category hint the analysis pipeline passes
// on its default call path (§4.5); inferCategory below is never reached
// from it.
const defaultCategory = "물품"

func analysisUserPrompt(category string) string {
	if strings.TrimSpace(category) == "" {
		category = defaultCategory
	}
	return "이 " + category + " 이미지를 분석하여 결함을 감지하고 상태를 평가해주세요."
}

func descriptionUserPrompt(productName string) string {
	return productName + ` 제품을 보고 중고 거래 플랫폼 판매자 관점에서 객관적이고 사실적인 설명을 한 문단(3-5문장)으로 작성해주세요. 색상, 재질, 상태, 사용감 등을 담백하게 기술하세요.`
}

// fallbackDescription is returned instead of erroring whenever the upstream
// model refuses or returns an empty candidate for description generation.
func fallbackDescription(productName string) string {
	return productName + ` 제품입니다. 이미지를 확인하시고 제품의 상태와 특징을 직접 입력해주세요.`
}

// categoryKeywords maps a marketplace category to the Korean keywords that
// suggest it in a product name or description.
var categoryKeywords = map[string][]string{
	"신발": {"신발", "운동화", "슬리퍼", "구두", "부츠", "샌들", "로퍼", "스니커즈", "nike", "adidas", "puma", "슈즈", "shoes"},
	"가방": {"가방", "백팩", "크로스백", "숄더백", "토트백", "클러치", "지갑", "가죽가방", "bag", "backpack"},
	"의류": {"옷", "티셔츠", "셔츠", "바지", "청바지", "자켓", "코트", "원피스", "치마", "후드", "맨투맨", "니트", "패딩"},
	"가전": {"노트북", "컴퓨터", "모니터", "키보드", "마우스", "스피커", "이어폰", "헤드폰", "태블릿", "전자제품"},
	"가구": {"의자", "책상", "테이블", "침대", "소파", "서랍", "장롱", "선반", "가구"},
}

// inferCategory guesses a product category from its name/description. It is
// an available strategy, not called by the default analysis call path,
// which always passes the literal defaultCategory (§4.5, §9).
func inferCategory(productName, productDescription string) string {
	text := strings.ToLower(productName + " " + productDescription)
	for category, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return category
			}
		}
	}
	return defaultCategory
}
