package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// yamlParser 实现 koanf.Parser，基于 yaml.v3
type yamlParser struct{}

// Unmarshal 解析 YAML 为嵌套 map
func (yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return out, nil
}

// Marshal 将 map 编码为 YAML
func (yamlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(m)
}

// jsonParser 实现 koanf.Parser，基于 encoding/json
type jsonParser struct{}

// Unmarshal 解析 JSON 为嵌套 map
func (jsonParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return out, nil
}

// Marshal 将 map 编码为 JSON
func (jsonParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return json.Marshal(m)
}

// parserFor 根据扩展名选择解析器
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlParser{}, nil
	case ".json":
		return jsonParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// fileBytes 实现 koanf.Provider，读取整个文件
type fileBytes struct {
	path string
}

func fileProvider(path string) *fileBytes {
	return &fileBytes{path: path}
}

// ReadBytes 返回文件内容
func (f *fileBytes) ReadBytes() ([]byte, error) {
	return os.ReadFile(f.path)
}

// Read 不支持，文件内容需经 Parser 解析
func (f *fileBytes) Read() (map[string]interface{}, error) {
	return nil, errors.New("file provider does not support Read")
}
