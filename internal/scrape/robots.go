package scrape

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// RobotsRules はrobots.txtのDisallowルールを保持する。
// パスのマッチングは一般的な慣行に従いプレフィックス一致で行う
// （Disallow: /search は /search.json や /search/authors も禁止する）。
type RobotsRules struct {
	disallowPrefixes []string
}

// Allowed は指定パスがDisallowルールに抵触しないかを返す。
// 未初期化のルール（robots.txt取得失敗時のnil）は全て許可として扱う。
func (r *RobotsRules) Allowed(path string) bool {
	if r == nil || len(r.disallowPrefixes) == 0 {
		return true
	}
	path = normalizePath(path)
	for _, prefix := range r.disallowPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// AllowedURL はURL文字列のパス部分に対してAllowedを評価する。
// URLが解析できない場合は保守的に拒否する。
func (r *RobotsRules) AllowedURL(rawURL string) bool {
	if r == nil || len(r.disallowPrefixes) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return r.Allowed(u.Path)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}

// FetchRobots はソースのドメインからrobots.txtを取得して解析する。
// クロール本体と同じUser-Agentを送り、サイト固有のルールが適用されるようにする。
// robots.txtが存在しない・取得できない場合はエラーを返し、
// 呼び出し側はnilルール（全許可）にフォールバックする。
func FetchRobots(ctx context.Context, client *http.Client, domain, userAgent string) (*RobotsRules, error) {
	u := &url.URL{Scheme: "https", Host: domain, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("robots.txtリクエストの作成に失敗しました: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("robots.txtの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robots.txtの取得に失敗しました: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, fmt.Errorf("robots.txtの読み取りに失敗しました: %w", err)
	}

	return ParseRobots(body, userAgent), nil
}

// ParseRobots はrobots.txt本文を解析し、指定User-Agentに適用されるルールを返す。
// 一致するUser-agentブロック（完全一致または*）のDisallow行を収集する。
func ParseRobots(body []byte, userAgent string) *RobotsRules {
	r := &RobotsRules{}
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	var inMatchingBlock bool
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "user-agent:") {
			agent := strings.TrimSpace(line[len("user-agent:"):])
			inMatchingBlock = agent == "*" || (userAgent != "" && strings.HasPrefix(strings.ToLower(userAgent), strings.ToLower(agent)))
			continue
		}
		if inMatchingBlock && strings.HasPrefix(lower, "disallow:") {
			path := strings.TrimSpace(line[len("disallow:"):])
			if path != "" {
				r.disallowPrefixes = append(r.disallowPrefixes, normalizePath(path))
			}
		}
	}
	return r
}
