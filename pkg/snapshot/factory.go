package snapshot

import (
	"fmt"

	"github.com/easyops/ctxwindow-go/pkg/core/config"
)

// NewStore 根据配置创建快照存储
func NewStore(cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Type {
	case StoreTypeFile:
		return NewFileStore(cfg.Path, cfg.Compress)
	case StoreTypeSQLite:
		return NewSQLiteStore(cfg.Path, cfg.Compress)
	case StoreTypeBadger:
		return NewBadgerStore(cfg.Path, cfg.Compress)
	case StoreTypeMemory, "":
		return NewMemoryStore(cfg.Compress), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownBackend, cfg.Type)
	}
}

// FromSnapshotConfig 从全局配置的 snapshot 段构造存储配置
func FromSnapshotConfig(c config.SnapshotConfig) *Config {
	c = c.WithDefaults()
	cfg := &Config{
		Type: StoreType(c.Backend),
		Path: c.Path,
	}
	if c.Compress != nil {
		cfg.Compress = *c.Compress
	}
	return cfg
}
