// Package telemetry 封装 OpenTelemetry SDK 初始化，为 MeetingFlow 的 HTTP 中间件
// 与会话副作用任务提供 TracerProvider 和 MeterProvider。
// MeetingRecorder 把会话事件记录为 OTel 指标，与 Prometheus Collector 并行导出。
// 遥测禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
