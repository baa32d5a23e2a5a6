// Package context 为会话提供基于引用的上下文窗口管理。
//
// 文件内容、终端输出和任务状态保存在外部内容存储中，活动上下文只持有它们的引用渲染结果。
// 每一轮对话时，Manager 从消息中提取引用，按使用统计评分排序，
// 在 Token 预算内装入；超出预算时先逐级降级，再按评分驱逐。
// 原始对话轮次从不被自动移除。
//
// # 表示级别
//
// 每个引用可以在五个级别之间降级：
//
//	full → symbols → headers → diff → pointer
//
// pointer 级别只保留 @ref 占位。降级不会移除条目，预算仍然超出时由驱逐阶段
// 按评分从低到高移除。
//
// # 基本用法
//
//	m, err := context.NewManager(
//	    context.WithConfig(context.NewConfig(context.WithMaxTokens(32000))),
//	    context.WithLogger(otel.NewSlogLogger(slog.Default())),
//	)
//	if err != nil {
//	    return err
//	}
//	m.SetFile(ctx, "src/app.ts", content, nil)
//
//	res, err := m.AssembleContext(ctx, message.NewUserMessage("look at @src/app.ts"), context.AssembleOptions{})
//	if err != nil {
//	    return err
//	}
//	// res.Messages 直接作为 llm.Request 的消息列表
//
// # 编辑流水线
//
// 已加载的文件被再次写入时，Manager 根据差异大小选择编辑策略：
//
//   - KEEP_BOTH：保留文件条目并追加差异，TTL 2 分钟
//   - REPLACE_WITH_DIFF：差异替代原表示，文件以当前版本重新加载，TTL 5 分钟
//   - DIFF_MARKER_ONLY：只保留变更摘要，TTL 1 分钟
//
// 差异条目的过期是惰性的，由 CheckExpirations 或下一次 AssembleContext 处理。
//
// # 快照
//
// ExportState 导出配置、内容存储与使用统计；ImportState 先完整校验再整体替换。
// 快照的持久化由 snapshot 包负责。
package context
