// Package store 是外部内容的权威存储：文件、终端输出与任务。
//
// 记录只会被显式写入操作创建或更新，从不自动过期；
// 被逐出的只是它们在活动上下文中的表示。
//
// Store 本身不加锁，调用方（context.Manager）负责串行化所有修改。
package store
