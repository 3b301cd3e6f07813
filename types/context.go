package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keySessionID      contextKey = "session_id"
	keyPersona        contextKey = "persona"
	keyAnnouncementID contextKey = "announcement_id"
)

// WithSessionID 将客户端会话 ID 写入 context。
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID 从 context 读取客户端会话 ID。
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok && v != ""
}

// WithPersona 将当前处理的 persona 写入 context。
func WithPersona(ctx context.Context, id SpeakerID) context.Context {
	return context.WithValue(ctx, keyPersona, id)
}

// PersonaFromContext 从 context 读取 persona。
func PersonaFromContext(ctx context.Context) (SpeakerID, bool) {
	v, ok := ctx.Value(keyPersona).(SpeakerID)
	return v, ok && v.IsPersona()
}

// WithAnnouncementID 将播报 ID 写入 context。
func WithAnnouncementID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyAnnouncementID, id)
}

// AnnouncementID 从 context 读取播报 ID。
func AnnouncementID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAnnouncementID).(string)
	return v, ok && v != ""
}
