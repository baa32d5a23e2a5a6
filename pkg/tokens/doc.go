// Package tokens 提供 token 成本估算。
//
// Estimator 是确定性的纯函数实现：按字符比例估算文本，
// 每条消息附加固定结构开销，每张图片计固定成本。
// 它有两种模式：
//
//   - ModeContentOnly 只统计消息内容，适合比较同一内容的不同表示
//   - ModeFullRequest 构造完整的线上请求（模型、消息、系统提示、工具、采样参数），
//     按序列化后的长度估算，用于阈值和预算判断
//
// TiktokenCounter 用模型的 BPE 编码精确计数，estimate --exact 用它校准估算值。
package tokens
