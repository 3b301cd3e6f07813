// Package config 提供 VoiceFloor 的配置管理功能。
//
// 包含默认值、YAML 文件加载、环境变量覆盖与配置校验。
// 编排层消费的阈值（静默阈值、分块上限、轮次上限）全部以普通参数的形式
// 由这里传入，不在各组件中硬编码。
package config
