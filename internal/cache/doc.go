// 版权所有 2024 MeetingFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的类型化缓存。

# 概述

Manager 持有共享的 go-redis 客户端，负责建连校验、后台探活与关闭。
Bucket[T] 在 KeyPrefix 下划出一个命名空间，以 JSON 读写 T 类型的值。
store.CachedProfiles 使用 Bucket[meeting.Profile] 缓存讲者档案。

# 主要能力

  - Load / Store / Forget：按键读写与删除，写入带命名空间的 TTL。
  - Purge：SCAN 遍历并清空整个命名空间，不影响其他前缀。
  - 探活：ProbeInterval 定时 PING，故障与恢复各记录一次日志。
  - 错误语义：ErrCacheMiss / IsCacheMiss 表示未命中（无法解码的条目也按未命中处理），
    ErrClosed 表示已关闭。
*/
package cache
