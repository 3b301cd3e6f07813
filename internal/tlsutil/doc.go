// Package tlsutil 为出站连接提供统一的 TLS 加固配置：
// 远端语音模型的 WebSocket 握手与 Redis 转写存储都从这里取配置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
