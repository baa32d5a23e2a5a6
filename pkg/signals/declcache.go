package signals

import (
	"regexp"
	"sync"
)

// maxCachedDecls 单个缓存最多保存的声明正则数，超出后整体清空
const maxCachedDecls = 256

// declCache 按函数名缓存编译好的声明正则，并发安全
type declCache struct {
	mu    sync.Mutex
	build func(name string) *regexp.Regexp
	res   map[string]*regexp.Regexp
}

func newDeclCache(build func(name string) *regexp.Regexp) *declCache {
	return &declCache{build: build, res: make(map[string]*regexp.Regexp)}
}

func (c *declCache) get(name string) *regexp.Regexp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.res[name]; ok {
		return re
	}
	if len(c.res) >= maxCachedDecls {
		clear(c.res)
	}
	re := c.build(name)
	c.res[name] = re
	return re
}

func (c *declCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.res)
}
