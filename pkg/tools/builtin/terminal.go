// Package builtin 提供与上下文窗口协作的内置工具。
//
// 这些工具只依赖小接口，由上下文管理器实现：终端命令的输出写入终端记录，
// 文件和任务工具读写同一份内容存储，模型随后通过 terminal:<id>、task:<id> 等引用按需加载。
package builtin

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/store"
	"github.com/easyops/ctxwindow-go/pkg/tools"
)

// Recorder 记录终端命令的输出
type Recorder interface {
	AddTerminalEntry(command, output string, meta store.TerminalMeta) store.TerminalRecord
}

// defaultBlocked 任何配置下都拒绝的命令片段
var defaultBlocked = []string{
	"rm -rf /", "rm -rf /*", ":(){ :|:& };:", "dd if=/dev/zero",
	"mkfs", "shutdown", "reboot", "halt", "poweroff",
}

// commandPolicy 命令准入规则，匹配不区分大小写
//
// allow 非空时命令必须以其中某一项开头；block 中任一片段出现即拒绝。
type commandPolicy struct {
	allow []string
	block []string
}

func (p commandPolicy) check(command string) error {
	lower := strings.ToLower(command)
	if len(p.allow) > 0 && !slices.ContainsFunc(p.allow, func(prefix string) bool {
		return strings.HasPrefix(lower, strings.ToLower(prefix))
	}) {
		return fmt.Errorf("%w: not in allowed list: %s", errors.ErrCommandBlocked, command)
	}
	if slices.ContainsFunc(p.block, func(frag string) bool {
		return strings.Contains(lower, strings.ToLower(frag))
	}) {
		return fmt.Errorf("%w: %s", errors.ErrCommandBlocked, command)
	}
	return nil
}

// Terminal 在 sh 中执行命令
//
// 设置 Recorder 后输出写入终端记录，返回给模型的是记录压缩后的输出和引用。
type Terminal struct {
	policy   commandPolicy
	workDir  string
	timeout  time.Duration
	recorder Recorder
}

type TerminalOption func(*Terminal)

func NewTerminal(opts ...TerminalOption) *Terminal {
	t := &Terminal{
		policy:  commandPolicy{block: slices.Clone(defaultBlocked)},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithAllowedCommands 只允许以这些前缀开头的命令
func WithAllowedCommands(prefixes []string) TerminalOption {
	return func(t *Terminal) { t.policy.allow = prefixes }
}

// WithBlockedCommands 在默认黑名单之外追加
func WithBlockedCommands(fragments []string) TerminalOption {
	return func(t *Terminal) { t.policy.block = append(t.policy.block, fragments...) }
}

func WithWorkDir(dir string) TerminalOption {
	return func(t *Terminal) { t.workDir = dir }
}

func WithTerminalTimeout(d time.Duration) TerminalOption {
	return func(t *Terminal) { t.timeout = d }
}

func WithRecorder(r Recorder) TerminalOption {
	return func(t *Terminal) { t.recorder = r }
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Description() string {
	return "Execute a shell command. The output is stored as a terminal entry that can be referenced later as terminal:<id>; mentioning the terminal brings the most recent output back into context. Some dangerous commands are blocked."
}

func (t *Terminal) Parameters() tools.ParameterSchema {
	return tools.ParameterSchema{
		Type: "object",
		Properties: map[string]tools.PropertySchema{
			"command": {Type: "string", Description: "The shell command to execute"},
		},
		Required: []string{"command"},
	}
}

func (t *Terminal) Validate(args map[string]any) error {
	_, err := tools.StringArg(args, "command")
	return err
}

// Execute 执行命令
//
// 非零退出码不算工具失败：输出和退出码一起返回，并记为错误条目。
func (t *Terminal) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, err := tools.StringArg(args, "command")
	if err != nil {
		return "", err
	}
	if err := t.policy.check(command); err != nil {
		return "", err
	}

	started := time.Now()
	output, exitCode, err := t.run(ctx, command)
	if err != nil {
		return "", err
	}

	if t.recorder == nil {
		if exitCode != 0 {
			return fmt.Sprintf("%s\n[exit status %d]", output, exitCode), nil
		}
		return output, nil
	}

	rec := t.recorder.AddTerminalEntry(command, output, store.TerminalMeta{
		ExitCode: exitCode,
		Metadata: map[string]any{
			"duration_ms": time.Since(started).Milliseconds(),
			"workdir":     t.workDir,
		},
	})
	return fmt.Sprintf("[%s exit=%d]\n%s", refs.Terminal(rec.ID), rec.ExitCode, rec.Output), nil
}

// run 返回合并后的输出和退出码；超时或无法启动时返回错误
func (t *Terminal) run(ctx context.Context, command string) (string, int, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workDir
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return combineOutput(stdout.String(), stderr.String()), 0, nil
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", 0, fmt.Errorf("%w: command timed out after %v", errors.ErrTimeout, t.timeout)
	case stderrors.As(err, &exitErr):
		return combineOutput(stdout.String(), stderr.String()), exitErr.ExitCode(), nil
	default:
		return "", 0, fmt.Errorf("command failed: %w", err)
	}
}

// combineOutput stdout 在前，stderr 加 "STDERR: " 前缀接在后面
func combineOutput(stdout, stderr string) string {
	out := strings.TrimRight(stdout, "\n")
	if stderr == "" {
		return out
	}
	if out != "" {
		out += "\n"
	}
	return out + "STDERR: " + strings.TrimRight(stderr, "\n")
}

var (
	_ tools.Tool      = (*Terminal)(nil)
	_ tools.Validator = (*Terminal)(nil)
)
