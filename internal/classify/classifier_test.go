package classify

import (
	"reflect"
	"testing"
)

// TestDetectLanguage_ScriptRanges は文字種レンジによる言語判定を検証する。
func TestDetectLanguage_ScriptRanges(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "英語テキスト",
			text: "The government announced a new policy on trade",
			want: LanguageEnglish,
		},
		{
			name: "ヘブライ語テキスト",
			text: "הממשלה הודיעה על מדיניות חדשה",
			want: LanguageHebrew,
		},
		{
			name: "アラビア語テキスト",
			text: "أعلنت الحكومة عن سياسة جديدة",
			want: LanguageArabic,
		},
		{
			name: "数字と記号のみ",
			text: "12345 !?#$ 67890",
			want: LanguageOther,
		},
		{
			name: "空文字列",
			text: "",
			want: LanguageOther,
		},
		{
			name: "ヘブライ語主体に英語が混在",
			text: "ראש הממשלה נפגש עם נשיא ארצות הברית Trump",
			want: LanguageHebrew,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.text); got != tt.want {
				t.Errorf("DetectLanguage(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

// TestClassify_KeywordCategory はキーワード一致によるカテゴリ判定を検証する。
func TestClassify_KeywordCategory(t *testing.T) {
	c := NewClassifier()

	result := c.Classify(
		"Election results announced",
		"The parliament will form a new government after the election.",
		"",
	)

	if result.Category != "politics" {
		t.Errorf("Category = %q, want %q", result.Category, "politics")
	}
	if result.Language != LanguageEnglish {
		t.Errorf("Language = %q, want %q", result.Language, LanguageEnglish)
	}
}

// TestClassify_BestCategoryWins は複数カテゴリが一致した場合に
// 一致数が最多のカテゴリが選ばれ、他の一致カテゴリはタグに残ることを検証する。
func TestClassify_BestCategoryWins(t *testing.T) {
	c := NewClassifier()

	// politicsのキーワード2件、healthのキーワード1件
	result := c.Classify(
		"Minister visits hospital",
		"The minister discussed government funding during the visit.",
		"",
	)

	if result.Category != "politics" {
		t.Errorf("Category = %q, want %q", result.Category, "politics")
	}
	if !reflect.DeepEqual(result.Tags, []string{"health", "politics"}) {
		t.Errorf("Tags = %v, want [health politics]", result.Tags)
	}
}

// TestClassify_DefaultCategoryFallback はキーワード一致がない場合に
// ソースの既定カテゴリへ退行することを検証する。
func TestClassify_DefaultCategoryFallback(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("Untitled", "Nothing notable here.", "general")

	if result.Category != "general" {
		t.Errorf("Category = %q, want %q", result.Category, "general")
	}
	if len(result.Tags) != 0 {
		t.Errorf("Tags = %v, want empty", result.Tags)
	}
}

// TestClassify_DefaultCategoryBecomesTag はキーワード判定が既定カテゴリを
// 上書きした場合、既定カテゴリがタグに降格することを検証する。
func TestClassify_DefaultCategoryBecomesTag(t *testing.T) {
	c := NewClassifier()

	result := c.Classify(
		"Stock market rally",
		"The stock market rose as inflation slowed.",
		"general",
	)

	if result.Category != "economy" {
		t.Errorf("Category = %q, want %q", result.Category, "economy")
	}

	found := false
	for _, tag := range result.Tags {
		if tag == "general" {
			found = true
		}
	}
	if !found {
		t.Errorf("Tags = %v, want to contain %q", result.Tags, "general")
	}
}

// TestClassify_EmptyInput は空入力でも分類がパニックせず退行することを検証する。
func TestClassify_EmptyInput(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("", "", "")

	if result.Language != LanguageOther {
		t.Errorf("Language = %q, want %q", result.Language, LanguageOther)
	}
	if result.Category != "" {
		t.Errorf("Category = %q, want empty", result.Category)
	}
}

// TestMatchKeywords_Deterministic は同一入力に対して常に同じ結果を返すことを検証する。
// mapの走査順に結果が依存すると、同じ記事の再分類で異なるカテゴリがつく。
func TestMatchKeywords_Deterministic(t *testing.T) {
	c := NewClassifier()
	text := "market research study election software match vaccine"

	first, firstTags := c.matchKeywords(text)
	for i := 0; i < 20; i++ {
		got, gotTags := c.matchKeywords(text)
		if got != first {
			t.Fatalf("matchKeywords category varies between runs: %q vs %q", got, first)
		}
		if !reflect.DeepEqual(gotTags, firstTags) {
			t.Fatalf("matchKeywords tags vary between runs: %v vs %v", gotTags, firstTags)
		}
	}
}
