package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type stubStorage struct {
	size int64
	err  error
}

func (s *stubStorage) TotalPayloadSize(ctx context.Context) (int64, error) {
	return s.size, s.err
}

func newTestMonitor(store StorageUsager, cfg Config) *ResourceMonitor {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewResourceMonitor(store, logger, cfg)
}

func TestResourceMonitor_Sample_OK(t *testing.T) {
	m := newTestMonitor(&stubStorage{size: 100}, Config{
		Interval:         time.Second,
		MemorySoftLimit:  1 << 50, // 到達不可能な上限
		StorageHighWater: 1 << 40,
	})

	m.Sample(context.Background())

	if got := m.Level(); got != AdmissionOK {
		t.Errorf("余裕がある場合はAdmissionOKであるべき: got=%s", got)
	}
	if m.StorageHigh() {
		t.Error("高水位未満でStorageHighがtrueになっている")
	}
}

func TestResourceMonitor_Sample_MemoryPressure(t *testing.T) {
	// ソフトリミットを1バイトにすればヒープ使用量は必ず超過する
	m := newTestMonitor(&stubStorage{size: 0}, Config{
		Interval:        time.Second,
		MemorySoftLimit: 1,
	})

	m.Sample(context.Background())

	if got := m.Level(); got != AdmissionDeny {
		t.Errorf("ソフトリミット超過時はAdmissionDenyであるべき: got=%s", got)
	}
}

func TestResourceMonitor_Sample_StorageHighWater(t *testing.T) {
	m := newTestMonitor(&stubStorage{size: 2000}, Config{
		Interval:         time.Second,
		MemorySoftLimit:  1 << 50,
		StorageHighWater: 1000,
	})

	m.Sample(context.Background())

	if !m.StorageHigh() {
		t.Error("高水位超過でStorageHighがfalseになっている")
	}
	if got := m.Level(); got != AdmissionReduced {
		t.Errorf("ストレージ高水位ではAdmissionReducedであるべき: got=%s", got)
	}
}

func TestResourceMonitor_Sample_StorageError(t *testing.T) {
	m := newTestMonitor(&stubStorage{err: errors.New("connection refused")}, Config{
		Interval:         time.Second,
		MemorySoftLimit:  1 << 50,
		StorageHighWater: 1 << 40,
	})

	m.Sample(context.Background())

	if got := m.Level(); got != AdmissionDeny {
		t.Errorf("サンプリング失敗時は保守的にAdmissionDenyへ退行すべき: got=%s", got)
	}
}

func TestResourceMonitor_InitialLevel(t *testing.T) {
	m := newTestMonitor(&stubStorage{}, Config{Interval: time.Second})

	if got := m.Level(); got != AdmissionOK {
		t.Errorf("初回サンプリング前はAdmissionOKであるべき: got=%s", got)
	}
}

func TestAdmissionLevel_String(t *testing.T) {
	cases := []struct {
		level AdmissionLevel
		want  string
	}{
		{AdmissionOK, "ok"},
		{AdmissionReduced, "reduced"},
		{AdmissionDeny, "deny"},
		{AdmissionLevel(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.level.String(); got != c.want {
			t.Errorf("String()の結果が異なる: got=%s want=%s", got, c.want)
		}
	}
}
