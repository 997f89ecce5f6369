// Copyright (c) MeetingFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 MeetingFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 meeting、speech、store、
api 等上层模块提供统一的错误契约与 Context 传播工具。

# 核心类型

  - Error / ErrorCode  结构化错误，含 HTTP 状态码、Retryable、Upstream 标记
  - ErrProfileMissing / ErrClosed / ErrUnconfigured  跨包哨兵错误，
    通过 errors.Is 按错误码匹配

# 主要能力

  - Context 传播：WithTraceID / WithUserID / WithRoles
  - 错误工具链：GetErrorCode / IsRetryable
  - 错误分类：IsTransient 识别超时、连接拒绝、熔断等可静默丢弃的错误
*/
package types
