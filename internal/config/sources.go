package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedSource はYAMLソース定義ファイルの1エントリ。
// migrateサブコマンド実行時に、ドメイン未登録のソースのみ冪等に挿入される。
type SeedSource struct {
	Name            string `yaml:"name"`
	Domain          string `yaml:"domain"`
	FeedURL         string `yaml:"feedUrl"`
	DefaultCategory string `yaml:"defaultCategory"`
	RespectRobots   *bool  `yaml:"respectRobots"`
	DelayMs         int    `yaml:"delayMs"`
	UserAgent       string `yaml:"userAgent"`
	TimeoutMs       int    `yaml:"timeoutMs"`
}

// seedFile はソース定義YAMLのルート構造。
type seedFile struct {
	Sources []SeedSource `yaml:"sources"`
}

// LoadSeedSources はYAMLファイルからソース定義を読み込む。
// 必須項目（name / domain / feedUrl）が欠けたエントリはエラーを返す。
func LoadSeedSources(path string) ([]SeedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ソース定義ファイルの読み込みに失敗しました: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ソース定義ファイルの解析に失敗しました: %w", err)
	}

	for i, s := range f.Sources {
		if s.Name == "" || s.Domain == "" || s.FeedURL == "" {
			return nil, fmt.Errorf("ソース定義 %d 件目: name / domain / feedUrl は必須です", i+1)
		}
	}

	return f.Sources, nil
}
