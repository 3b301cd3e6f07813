// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 VoiceFloor 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / AssertNeverTrue，
    用于等待 worker、看门狗等后台协程产生效果
  - 时钟: FakeClock，配合 floor.WithClock 驱动仲裁器时间
  - 数据工具: MustJSON / MustParseJSON / AssertToolCallsEqual

# 子包

  - testutil/mocks: FakeSession / FakeDialer（脚本化远端会话）、
    RecordingClient（记录送往用户的音频）、MockToolExecutor（工具执行器）
  - testutil/fixtures: 测试 persona 与 PCM16 音频样例

# 使用示例

	dialer := mocks.NewFakeDialer()
	client := mocks.NewRecordingClient()
	sess := dialer.WaitSession(fixtures.Aria, 1, time.Second)
	sess.EmitAudio(fixtures.PCM16Tone(160, 8000))
	testutil.AssertEventuallyTrue(t, func() bool { return client.Count(fixtures.Aria) == 1 }, time.Second)
*/
package testutil
