package tools

import (
	"context"
	"time"

	"github.com/BaSui01/voicefloor/types"
)

// CurrentTimeTool 返回当前时间的内置工具，可选参数 timezone（IANA 名称）
func CurrentTimeTool(now func() time.Time) (Func, Metadata) {
	if now == nil {
		now = time.Now
	}
	fn := func(_ context.Context, args map[string]any) (map[string]any, error) {
		t := now()
		if tz, _ := args["timezone"].(string); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, err
			}
			t = t.In(loc)
		}
		return map[string]any{
			"time":     t.Format(time.RFC3339),
			"weekday":  t.Weekday().String(),
			"timezone": t.Location().String(),
		}, nil
	}
	meta := Metadata{
		Declaration: types.ToolDeclaration{
			Name:        "current_time",
			Description: "Returns the current date and time.",
			Parameters: types.NewObjectSchema().
				AddProperty("timezone", types.NewStringSchema().WithDescription("IANA time zone, e.g. Asia/Seoul")),
		},
		Timeout: time.Second,
	}
	return fn, meta
}

// RegisterBuiltins 注册内置工具
func RegisterBuiltins(r *Registry) error {
	fn, meta := CurrentTimeTool(nil)
	return r.Register(meta.Declaration.Name, fn, meta)
}
