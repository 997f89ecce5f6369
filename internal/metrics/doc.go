// 版权所有 2024 MeetingFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集。

# 概述

Collector 通过 promauto 注册全部指标，按 namespace 隔离。它实现
meeting.Recorder，会话、转写、声纹、出勤、广播与副作用的指标都经由它记录；
HTTP 中间件、档案缓存与数据库连接池也向它上报。

# 指标分组

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 会话：活跃会话数、会话总数、会话时长。
  - 对齐：转写解析结果、声纹结果、出勤判定、绑定变更与绑定表大小。
  - 广播与副作用：逐接收方投递结果，副作用状态与耗时。
  - 缓存与数据库：档案缓存命中/未命中，连接池活跃/空闲连接数。
*/
package metrics
