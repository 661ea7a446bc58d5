package config

import (
	"context"
	"os"
	"time"

	"trade-router-go/infrastructure/logger"
)

// Watcher 轮询文件 mtime 的热更新回退实现，容器在 inotify 不可用时启用。
// 语义与 Reloader 对齐：只有通过校验的完整配置才会回调。
type Watcher struct {
	Path     string
	Interval time.Duration
	Log      *logger.Logger
}

// Start 阻塞轮询直到 ctx 结束。启动时的文件内容不算变更，
// 只有之后 mtime 变新才触发重载。
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	log := w.Log
	if log == nil {
		log = logger.NewNop()
	}

	var lastMod time.Time
	if info, err := os.Stat(w.Path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := os.Stat(w.Path)
			if err != nil || !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				log.LogError(err, map[string]interface{}{"action": "config_poll_reload", "path": w.Path})
				continue
			}
			log.Info("config reloaded")
			if onUpdate != nil {
				onUpdate(cfg)
			}
		}
	}
}
