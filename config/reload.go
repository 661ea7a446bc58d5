package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"trade-router-go/infrastructure/logger"
)

// Reloader 基于 fsnotify 的配置热更新。
// 监听配置文件所在目录以兼容编辑器的改名替换写法，
// 写事件做去抖后重新加载，校验失败的配置不会回调。
type Reloader struct {
	path     string
	debounce time.Duration
	log      *logger.Logger
}

// NewReloader 创建热更新器。
func NewReloader(path string, log *logger.Logger) *Reloader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reloader{
		path:     path,
		debounce: 200 * time.Millisecond,
		log:      log,
	}
}

// Start 阻塞运行直到 ctx 结束；onUpdate 收到的都是通过校验的完整配置。
func (r *Reloader) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
				timerC = timer.C
			} else {
				timer.Reset(r.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.LogError(err, map[string]interface{}{"action": "config_watch"})
		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := LoadWithEnvOverrides(r.path)
			if err != nil {
				r.log.LogError(err, map[string]interface{}{"action": "config_reload", "path": r.path})
				continue
			}
			r.log.Info("config reloaded")
			if onUpdate != nil {
				onUpdate(cfg)
			}
		}
	}
}
