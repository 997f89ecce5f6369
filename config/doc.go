// Package config 提供 MeetingFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → MEETINGFLOW_* 环境变量 的顺序叠加，
// Validate 校验端口、声纹窗口、置信度阈值与分块大小。
// Sanitized 返回脱敏后的配置视图，供只读查询接口使用。
package config
