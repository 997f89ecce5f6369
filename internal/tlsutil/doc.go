// Package tlsutil 为出站 HTTP 与 WebSocket 连接提供统一的 TLS 配置：
// TLS 1.2 起步，仅 AEAD 密码套件。
package tlsutil
