package config

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听配置文件变化，每次写入后重新加载并回调 onChange，直到 ctx 取消
//
// 监听所在目录，写临时文件后rename覆盖的原子保存同样触发重新加载
// 重新加载失败（如yaml非法）时记录日志并保留旧配置，不调用 onChange
func Watch(ctx context.Context, path string, onChange func(*FileConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	log.Printf("[INFO] 监听配置文件变化: %s", target)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isConfigChange(event, target) {
				continue
			}

			cfg, err := Load(target)
			if err != nil {
				log.Printf("[WARN] 配置重新加载失败，保留旧配置: %v", err)
				continue
			}

			log.Printf("[INFO] 配置已重新加载: %s", target)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] 配置监听错误: %v", err)
		}
	}
}

// isConfigChange 目录事件中只关心目标文件的写入、创建（rename覆盖到目标名）和重命名
func isConfigChange(event fsnotify.Event, target string) bool {
	if filepath.Clean(event.Name) != target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
