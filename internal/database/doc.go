// 版权所有 2024 MeetingFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接打开与连接池管理。

# 概述

Connect 按驱动名（postgres、mysql、sqlite）选择 GORM 方言并建立连接，
返回的 PoolManager 统一管理连接池参数、后台探活、事务与重试。
store 包的 Repository 通过 PoolManager 读写讲者档案与出勤记录。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close()、WithTransaction()、WithTransactionRetry()。
  - PoolConfig：最大空闲/打开连接数、连接生命周期、空闲超时与探活间隔。
  - StatsRecorder：探活成功后接收连接数，metrics.Collector 实现它。

# 重试语义

IsRetryableError 将死锁、序列化失败、锁等待超时、连接中断以及
SQLite 的 database is locked 视为可重试错误。
*/
package database
