// 版权所有 2024 MeetingFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理讲者档案与出勤表的 Schema 迁移，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 文件内嵌在 migrations/<dialect>/ 目录下，与 store 包的
GORM 模型保持一致。三种方言都经 database.Open 以与服务相同的 GORM 驱动打开，
再交给 golang-migrate 对应的数据库驱动；方言差异集中在 dialect 表中。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Version、Status、Info。
    ctx 取消时在当前迁移文件完成后停止。
  - CLI：meetingflow migrate 子命令的终端输出层，Run 按命令名分发。
  - NewMigratorFromDatabaseConfig：从 config.DatabaseConfig 创建迁移器。
*/
package migration
