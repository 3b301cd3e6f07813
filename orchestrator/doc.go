// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package orchestrator 把发言权仲裁、persona worker、看门狗、跨角色转述、
播报闸门与转写存储装配成一场完整的对话。

# 数据流

客户端音频经 PushUserAudio 扇出到每个 persona 的收件箱；检测到人声时
先把发言权交给用户。语音识别给出的最终文本经 OnFinalizedUtterance
进入转述器，随后释放用户的发言权（顺序模式下推进到下一位）。
persona 的音频片段只有在仲裁器批准后才会送往客户端。

# 生命周期

每个 Orchestrator 只运行一次：Run 以 errgroup 启动全部 worker、看门狗
与播报调度器，ctx 取消后等待它们退出，再关闭仲裁器与转写存储。
*/
package orchestrator
