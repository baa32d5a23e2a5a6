package tools

import (
	"slices"
	"strings"
	"sync"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/llm"
)

// Registry 按名称排序保存工具，并发安全
//
// 请求里的工具定义和 token 估算都按这个顺序生成，同一组工具顺序总是稳定的。
type Registry struct {
	mu    sync.RWMutex
	tools []Tool
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{}
}

func compareName(t Tool, name string) int {
	return strings.Compare(t.Name(), name)
}

// find 返回名称的插入位置以及是否已存在，调用方持锁
func (r *Registry) find(name string) (int, bool) {
	return slices.BinarySearchFunc(r.tools, name, compareName)
}

// Register 注册工具，重名返回 ErrToolAlreadyRegistered
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return errors.ErrInvalidTool
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i, found := r.find(tool.Name())
	if found {
		return errors.ErrToolAlreadyRegistered
	}
	r.tools = slices.Insert(r.tools, i, tool)
	return nil
}

// MustRegister 同 Register，失败时 panic，用于启动阶段注册内置工具
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// RegisterAll 依次注册，遇错即停，已注册的不回滚
func (r *Registry) RegisterAll(tools ...Tool) error {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Get 按名称查找工具，不存在时返回 ErrToolNotFound
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, found := r.find(name)
	if !found {
		return nil, errors.ErrToolNotFound
	}
	return r.tools[i], nil
}

func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, found := r.find(name)
	if !found {
		return errors.ErrToolNotFound
	}
	r.tools = slices.Delete(r.tools, i, i+1)
	return nil
}

// List 工具名称，已排序
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name()
	}
	return names
}

// All 工具副本，已排序
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.tools)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Describe 纯文本工具清单，供 REPL 展示
func (r *Registry) Describe() string {
	return Describe(r.All())
}

// LLMDefinitions 模型请求里的工具定义，空注册表返回 nil
func (r *Registry) LLMDefinitions() []llm.ToolDefinition {
	all := r.All()
	if len(all) == 0 {
		return nil
	}
	defs := make([]llm.ToolDefinition, len(all))
	for i, tool := range all {
		defs[i] = ToLLMDefinition(tool)
	}
	return defs
}
