// Copyright (c) MeetingFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 MeetingFlow HTTP 与 WebSocket 端点的请求处理器。

# 概述

所有 Handler 遵循标准 net/http 接口。JSON 端点使用统一的
Response 包装（success + data + error + timestamp），错误码由
types.ErrorCode 映射到 HTTP 状态码。

# 核心类型

  - MeetingHandler    /meeting WebSocket：每个连接对应一个 meeting.Session，
    二进制帧为 PCM 音频，文本帧为 ping/stop 控制消息
  - TTSHandler        POST /api/tts/summary：合成摘要语音并广播 tts_summary
  - SessionsHandler   GET /api/v1/sessions[/{id}]：活跃会话列表与快照
  - HealthHandler     /health、/healthz、/ready、/version
  - ResponseWriter    捕获状态码与响应大小，支持 WebSocket 劫持

# 请求处理辅助

  - DecodeJSONBody  1 MB 限制，拒绝未知字段
  - ValidateStruct  基于 go-playground/validator 的字段校验
  - WriteSuccess / WriteError / WriteErr  统一响应输出
*/
package handlers
