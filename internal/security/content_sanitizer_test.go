package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags は本文構造タグが正しく通過することを検証する。
func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		// want に含まれるべき部分文字列
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>記事の段落</p>",
			wantContains: []string{"<p>記事の段落</p>"},
		},
		{
			name:         "brタグが許可される",
			input:        "行1<br>行2",
			wantContains: []string{"<br>", "行1", "行2"},
		},
		{
			name:         "見出しタグが許可される",
			input:        "<h2>中見出し</h2><h3>小見出し</h3>",
			wantContains: []string{"<h2>中見出し</h2>", "<h3>小見出し</h3>"},
		},
		{
			name:         "ulタグとliタグが許可される",
			input:        "<ul><li>項目1</li><li>項目2</li></ul>",
			wantContains: []string{"<ul>", "<li>", "項目1", "項目2"},
		},
		{
			name:         "blockquoteタグが許可される",
			input:        "<blockquote>引用テキスト</blockquote>",
			wantContains: []string{"<blockquote>引用テキスト</blockquote>"},
		},
		{
			name:         "preタグとcodeタグが許可される",
			input:        "<pre><code>x := 1</code></pre>",
			wantContains: []string{"<pre>", "<code>", "x := 1"},
		},
		{
			name:         "strongタグとemタグが許可される",
			input:        "<strong>強調</strong>と<em>斜体</em>",
			wantContains: []string{"<strong>強調</strong>", "<em>斜体</em>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, want to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_RemovesDangerousContent はscript等の危険な要素が除去されることを検証する。
func TestSanitize_RemovesDangerousContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name    string
		input   string
		notWant []string
	}{
		{
			name:    "scriptタグが除去される",
			input:   `<p>本文</p><script>alert("xss")</script>`,
			notWant: []string{"<script>", "alert"},
		},
		{
			name:    "iframeタグが除去される",
			input:   `<p>本文</p><iframe src="https://evil.example.com"></iframe>`,
			notWant: []string{"<iframe", "evil.example.com"},
		},
		{
			name:    "styleタグが除去される",
			input:   `<style>body { display: none }</style><p>本文</p>`,
			notWant: []string{"<style>", "display"},
		},
		{
			name:    "onclickイベント属性が除去される",
			input:   `<p onclick="steal()">本文</p>`,
			notWant: []string{"onclick", "steal"},
		},
		{
			name:    "imgタグが除去される",
			input:   `<p>本文</p><img src="https://tracker.example.com/1.gif">`,
			notWant: []string{"<img", "tracker"},
		},
		{
			name:    "aタグは本文保存対象外のため除去される",
			input:   `<p><a href="javascript:alert(1)">リンク</a></p>`,
			notWant: []string{"<a", "javascript:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, bad := range tt.notWant {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, bad)
				}
			}
		})
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一の出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>段落</p><script>alert(1)</script><h2>見出し</h2>`
	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(first)

	if first != second {
		t.Errorf("Sanitize is not idempotent: first=%q second=%q", first, second)
	}
}

// TestPlainText_StripsAllTags はPlainTextが全タグを除去することを検証する。
func TestPlainText_StripsAllTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.PlainText("<p>最初の段落</p><h2>見出し</h2><p>次の段落</p>")
	for _, tag := range []string{"<p>", "<h2>", "</"} {
		if strings.Contains(got, tag) {
			t.Errorf("PlainText result %q should not contain %q", got, tag)
		}
	}
	for _, text := range []string{"最初の段落", "見出し", "次の段落"} {
		if !strings.Contains(got, text) {
			t.Errorf("PlainText result %q should contain %q", got, text)
		}
	}
}

// TestPlainText_NormalizesWhitespace は連続空白が1つに畳み込まれることを検証する。
// content_hashの計算は正規化済みテキストに依存するため、ここが崩れると
// 同一記事の重複検出が失敗する。
func TestPlainText_NormalizesWhitespace(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.PlainText("<p>word1   word2</p>\n\n<p>word3\tword4</p>")
	want := "word1 word2 word3 word4"
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

// TestSanitize_EmptyInput は空入力に対して空文字列を返すことを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewContentSanitizer()

	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
	if got := sanitizer.PlainText(""); got != "" {
		t.Errorf("PlainText(\"\") = %q, want empty", got)
	}
}
