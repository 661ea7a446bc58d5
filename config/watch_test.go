package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherDeliversOnlyOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":8080\"\n"), 0644))

	updates := make(chan AppConfig, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		w := Watcher{Path: path, Interval: 20 * time.Millisecond}
		w.Start(ctx, func(cfg AppConfig) { updates <- cfg })
	}()

	// 启动时已有的内容不触发回调
	select {
	case <-updates:
		t.Fatal("startup content must not be delivered as a change")
	case <-time.After(200 * time.Millisecond):
	}

	// mtime 精度取决于文件系统，确保前后两次写入可区分
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0644))

	select {
	case cfg := <-updates:
		require.Equal(t, ":9090", cfg.Server.Addr)
	case <-time.After(3 * time.Second):
		t.Fatal("updated config not delivered")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":8080\"\n"), 0644))

	updates := make(chan AppConfig, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		w := Watcher{Path: path, Interval: 20 * time.Millisecond}
		w.Start(ctx, func(cfg AppConfig) { updates <- cfg })
	}()

	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed\n"), 0644))

	select {
	case <-updates:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}
}
