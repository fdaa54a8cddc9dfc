// Package classify は抽出済み記事への言語・カテゴリ・タグの付与を提供する。
// 分類はベストエフォートで、失敗しても記事を失敗させず
// language=other / category未設定に退行する。
package classify

import (
	"sort"
	"strings"
	"unicode"
)

// 言語コード。文字種ヒューリスティクスで判別できる言語のみを扱う。
const (
	LanguageEnglish = "en"
	LanguageHebrew  = "he"
	LanguageArabic  = "ar"
	LanguageOther   = "other"
)

// Result は分類結果。
type Result struct {
	Language string
	Category string
	Tags     []string
}

// Classifier は文字種レンジとキーワードヒューリスティクスによる分類器。
// 状態を持たず、全パイプラインで共有できる。
type Classifier struct {
	keywords map[string][]string
}

// NewClassifier は既定のカテゴリキーワード辞書を持つClassifierを生成する。
func NewClassifier() *Classifier {
	return &Classifier{
		keywords: defaultKeywords,
	}
}

// defaultKeywords はカテゴリ判定用のキーワード辞書。
// 記事テキストの小文字化済み本文に対する部分一致で評価される。
var defaultKeywords = map[string][]string{
	"politics":   {"election", "parliament", "minister", "government", "policy", "senate", "knesset"},
	"economy":    {"market", "economy", "inflation", "stock", "trade", "currency", "interest rate"},
	"technology": {"software", "startup", "technology", " ai ", "cyber", "computing", "smartphone"},
	"sports":     {"match", "tournament", "league", "championship", "olympic", "football", "basketball"},
	"health":     {"hospital", "vaccine", "disease", "health", "medical", "treatment"},
	"science":    {"research", "study", "scientist", "climate", "space", "physics"},
}

// Classify はタイトルと本文から言語・カテゴリ・タグを決定する。
// defaultCategoryはソースの既定カテゴリで、キーワード判定と併合される:
// キーワードで判定できた場合はそちらを優先し、既定カテゴリはタグに残す。
func (c *Classifier) Classify(title, body, defaultCategory string) Result {
	text := title + " " + body

	result := Result{
		Language: DetectLanguage(text),
		Category: defaultCategory,
	}

	matched, tags := c.matchKeywords(text)
	if matched != "" {
		result.Category = matched
		if defaultCategory != "" && defaultCategory != matched {
			tags = append(tags, defaultCategory)
		}
	}
	sort.Strings(tags)
	result.Tags = tags

	return result
}

// matchKeywords は最も多くのキーワードが一致したカテゴリと、
// 一致した全カテゴリ名のタグ集合を返す。一致がなければ空を返す。
func (c *Classifier) matchKeywords(text string) (string, []string) {
	lower := " " + strings.ToLower(text) + " "

	best := ""
	bestCount := 0
	var tags []string

	// mapの走査順に依存しないよう、カテゴリ名順で評価する
	categories := make([]string, 0, len(c.keywords))
	for cat := range c.keywords {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		count := 0
		for _, kw := range c.keywords[cat] {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > 0 {
			tags = append(tags, cat)
			if count > bestCount {
				best = cat
				bestCount = count
			}
		}
	}

	return best, tags
}

// DetectLanguage は文字種レンジの出現数から言語を判定する。
// ヘブライ文字・アラビア文字・ラテン文字を数え、最多の文字種の言語を返す。
// 文字が1つも判別できない場合はotherを返す。
func DetectLanguage(text string) string {
	var latin, hebrew, arabic int

	for _, r := range text {
		switch {
		case r >= 0x0590 && r <= 0x05FF:
			hebrew++
		case (r >= 0x0600 && r <= 0x06FF) || (r >= 0x0750 && r <= 0x077F):
			arabic++
		case unicode.In(r, unicode.Latin):
			latin++
		}
	}

	max := latin
	lang := LanguageEnglish
	if hebrew > max {
		max = hebrew
		lang = LanguageHebrew
	}
	if arabic > max {
		max = arabic
		lang = LanguageArabic
	}
	if max == 0 {
		return LanguageOther
	}
	return lang
}
