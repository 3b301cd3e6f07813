// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package relay 实现跨角色上下文转述。

用户说完一句话时，计数器归零、发言权交给用户，并根据称呼更新主答 persona；
persona 说完一句话时，计数器加一，发言以 `Peer(<name>) said: "<text>"`
的形式注入其他 persona 的收件箱。计数器达到上限时附加停止辩论的指令，
并让仲裁器进入等待用户状态，防止 persona 之间无限对话。

称呼检测与提问检测都是可替换的谓词函数（AddressPredicate / QuestionPredicate）。
*/
package relay
