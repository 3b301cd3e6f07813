// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package types 提供 VoiceFloor 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 floor、persona、relay、
gate、orchestrator 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - SpeakerID：发言权持有者标识（空 / USER / persona-id）
  - Persona：一个可独立寻址的语音角色（名称、别名、音色、指令）
  - InboxMessage：角色收件箱中的消息（Audio / TextContext / ToolResult）
  - Frame：远端对话音频模型推送的帧（音频、文本、轮次结束、打断、工具调用）
  - ToolCall / ToolResult：工具调用请求与执行结果
  - Error / ErrorCode：结构化错误体系，含 Retryable、Persona 标记

# 主要能力

  - 错误工具链：NewError / WithCause / IsRetryable / GetErrorCode / IsErrorCode
  - 消息构造：NewAudioMessage / NewTextContext / NewToolResultMessage
*/
package types
