// Copyright (c) MeetingFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MeetingFlow 服务端程序入口。

# 概述

cmd/meetingflow 装配会议助手服务：WebSocket 音频接入、说话人身份对齐、
出勤记录与 TTS 广播。程序支持 YAML 配置与 .env 文件、结构化日志（zap）、
Prometheus 指标以及可选的 OpenTelemetry 链路追踪。

# 核心类型

  - Server       主服务器，持有存储、缓存、会话注册表与 HTTP/Metrics 双端口
  - Middleware   HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、Metrics、CORS、RateLimiter（基于 IP）、JWTAuth
  - 降级运行：未配置数据库时出勤只在内存中，Redis 不可用时档案不缓存，
    未配置 TTS 时关闭欢迎语与摘要播报
  - 优雅关闭：信号监听 → 关闭会话 → 关闭 HTTP → 关闭 Metrics →
    等待副作用 → 释放缓存、数据库与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
