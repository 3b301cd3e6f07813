// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package realtime 定义与远端对话音频模型之间的双工会话。

# 概述

每个 persona 持有一条独立的 Session。Session 接受音频、文本与
工具结果三种上行消息，下行产出 audio / text / turn_complete /
interrupted / tool_call 五种 Frame。会话断开后由 persona.Worker
通过 Dialer 重新建立，本包不做重连。

# 实现

  - WSDialer: 基于 github.com/coder/websocket 的通用 JSON 协议，
    适配任何实现了相同帧格式的实时网关。
  - GeminiDialer: 基于 google.golang.org/genai 的 Live API。

NewDialer 按 Config.Provider 选择实现。
*/
package realtime
