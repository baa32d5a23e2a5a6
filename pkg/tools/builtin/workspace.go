package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/easyops/ctxwindow-go/pkg/tools"
)

// FileSource 读取内容存储中的文件
type FileSource interface {
	File(path string) (store.FileRecord, bool)
	Paths() []string
}

// TaskUpdater 更新任务记录
type TaskUpdater interface {
	UpdateTask(id string, u store.TaskUpdate) store.TaskRecord
}

// NewReadFile 创建读取文件的工具
//
// 返回文件全文；文件不存在时列出已知路径，方便模型改用正确的引用。
func NewReadFile(src FileSource) *tools.TextTool {
	return tools.NewTextTool(
		"read_file",
		"Read the full content of a file tracked in the context window.",
		"path",
		"Workspace-relative file path, e.g. src/app.ts",
		func(ctx context.Context, path string) (string, error) {
			path = strings.TrimPrefix(strings.TrimSpace(path), "@")
			rec, ok := src.File(path)
			if !ok {
				return "", fmt.Errorf("%w: %s (known: %s)", errors.ErrFileNotFound, path, strings.Join(src.Paths(), ", "))
			}
			return rec.Content, nil
		},
	)
}

// TaskArgs update_task 工具的参数
type TaskArgs struct {
	ID          string `json:"id" desc:"Task identifier" required:"true"`
	Description string `json:"description" desc:"Task description"`
	Status      string `json:"status" desc:"Task status, e.g. pending, in_progress, done"`
	Context     string `json:"context" desc:"Free-form notes for the task"`
}

// NewUpdateTask 创建更新任务的工具
//
// 空字段保留原值，返回更新后的任务记录（JSON）。
func NewUpdateTask(tasks TaskUpdater) *tools.FuncTool {
	return tools.NewFuncTool(
		"update_task",
		"Create or update a task record. Empty fields keep their previous value. The task can be referenced later as task:<id>.",
		tools.SchemaFromStruct(TaskArgs{}),
		func(ctx context.Context, args map[string]interface{}) (string, error) {
			var in TaskArgs
			raw, err := json.Marshal(args)
			if err != nil {
				return "", err
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return "", fmt.Errorf("%w: %v", errors.ErrInvalidToolArgs, err)
			}

			rec := tasks.UpdateTask(in.ID, store.TaskUpdate{
				Description: in.Description,
				Status:      in.Status,
				Context:     in.Context,
			})
			out, err := json.Marshal(rec)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
		tools.WithValidator(func(args map[string]interface{}) error {
			id, err := tools.StringArg(args, "id")
			if err != nil {
				return err
			}
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("id must not be empty")
			}
			return nil
		}),
	)
}

// Register 把全部内置工具注册到注册表
func Register(r *tools.Registry, mgr interface {
	Recorder
	FileSource
	TaskUpdater
}, opts ...TerminalOption) error {
	opts = append(opts, WithRecorder(mgr))
	return r.RegisterAll(
		NewTerminal(opts...),
		NewReadFile(mgr),
		NewUpdateTask(mgr),
	)
}
