// MockToolExecutor 的工具执行测试模拟实现。
//
// 支持按名称注册工具函数、固定结果与错误注入，并记录全部调用。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/voicefloor/types"
)

// --- MockToolExecutor 结构 ---

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// MockToolExecutor 是工具执行器的模拟实现
type MockToolExecutor struct {
	mu sync.Mutex

	toolFuncs   map[string]ToolFunc
	toolResults map[string]map[string]any
	toolErrors  map[string]error

	// 调用记录
	calls []types.ToolCall
}

// NewMockToolExecutor 创建新的 MockToolExecutor
func NewMockToolExecutor() *MockToolExecutor {
	return &MockToolExecutor{
		toolFuncs:   make(map[string]ToolFunc),
		toolResults: make(map[string]map[string]any),
		toolErrors:  make(map[string]error),
	}
}

// --- Builder 方法 ---

// WithTool 注册工具执行函数
func (m *MockToolExecutor) WithTool(name string, fn ToolFunc) *MockToolExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolFuncs[name] = fn
	return m
}

// WithToolResult 设置工具的固定返回结果
func (m *MockToolExecutor) WithToolResult(name string, result map[string]any) *MockToolExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolResults[name] = result
	return m
}

// WithToolError 设置工具的固定返回错误
func (m *MockToolExecutor) WithToolError(name string, err error) *MockToolExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolErrors[name] = err
	return m
}

// --- 执行 ---

// Execute 执行工具。未注册的工具返回 TOOL_NOT_FOUND 错误结果。
func (m *MockToolExecutor) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	fn, hasFn := m.toolFuncs[call.Name]
	result, hasResult := m.toolResults[call.Name]
	err, hasErr := m.toolErrors[call.Name]
	m.mu.Unlock()

	switch {
	case hasErr:
		return types.NewToolErrorResult(call, err)
	case hasResult:
		return types.ToolResult{CallID: call.ID, Name: call.Name, Payload: result}
	case hasFn:
		payload, err := fn(ctx, call.Args)
		if err != nil {
			return types.NewToolErrorResult(call, err)
		}
		return types.ToolResult{CallID: call.ID, Name: call.Name, Payload: payload}
	default:
		return types.NewToolErrorResult(call, types.NewError(types.ErrToolNotFound, "tool not found: "+call.Name))
	}
}

// --- 查询 ---

// Calls 返回全部调用记录
func (m *MockToolExecutor) Calls() []types.ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ToolCall(nil), m.calls...)
}

// CallCount 返回指定工具的调用次数
func (m *MockToolExecutor) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
