// Package model はドメインモデルを定義する。
package model

import "time"

// Source はスクレイピング対象のニュースソースを表す。
// 管理者が作成・編集し、パイプラインからは読み取り専用。
// domainは全ソースで一意。
type Source struct {
	ID              string
	Name            string
	Domain          string
	FeedURL         string
	DefaultCategory string
	RespectRobots   bool
	DelayMs         int
	UserAgent       string
	TimeoutMs       int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ScrapePolicy はソースごとのスクレイピングポリシーを返す。
// パイプラインはジョブ開始時点のスナップショットを使用し、
// ジョブ実行中のソース編集は進行中のパイプラインに影響しない。
func (s *Source) ScrapePolicy() ScrapePolicy {
	return ScrapePolicy{
		RespectRobots: s.RespectRobots,
		DelayMs:       s.DelayMs,
		UserAgent:     s.UserAgent,
		TimeoutMs:     s.TimeoutMs,
	}
}

// ScrapePolicy はソース単位のフェッチ挙動を定める設定タプル。
type ScrapePolicy struct {
	RespectRobots bool
	DelayMs       int
	UserAgent     string
	TimeoutMs     int
}

// Delay はDelayMsをtime.Durationとして返す。
func (p ScrapePolicy) Delay() time.Duration {
	return time.Duration(p.DelayMs) * time.Millisecond
}

// Timeout はTimeoutMsをtime.Durationとして返す。0以下の場合はfallbackを返す。
func (p ScrapePolicy) Timeout(fallback time.Duration) time.Duration {
	if p.TimeoutMs <= 0 {
		return fallback
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}
