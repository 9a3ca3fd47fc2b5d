package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
	"github.com/domekit/domekit/internal/domain/policy"
	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/config"
	apperrors "github.com/domekit/domekit/pkg/errors"
)

// MaxIterations 每次请求最多的模型调用轮数（硬上限）
const MaxIterations = 5

// ModelAdapter 路由器对模型适配层的最小依赖
type ModelAdapter interface {
	Chat(ctx context.Context, messages []entity.Message, model string, tools []map[string]interface{}) (entity.Message, error)
}

// AuditSink 路由器对审计存储的最小依赖
type AuditSink interface {
	AppendBestEffort(entry entity.AuditEntry)
}

// MetricsHook 进程级计数回调；monitoring.Monitor 原样满足
type MetricsHook interface {
	IncToolCall()
	IncPolicyBlock()
	IncModelCall()
}

type noopMetrics struct{}

func (noopMetrics) IncToolCall()    {}
func (noopMetrics) IncPolicyBlock() {}
func (noopMetrics) IncModelCall()   {}

// ToolRouter 驱动模型 ↔ 工具调用循环：有界迭代、逐指令策略拦截、
// 逐步审计、trace 聚合。单个请求内严格串行；多个请求可并发运行，
// 只共享审计存储（单写者）与策略引擎（加载后不可变）。
type ToolRouter struct {
	policy   *policy.Engine
	registry *domaintool.Registry
	audit    AuditSink
	adapter  ModelAdapter
	metrics  MetricsHook
	logger   *zap.Logger
}

// NewToolRouter 创建路由器
func NewToolRouter(
	policyEngine *policy.Engine,
	registry *domaintool.Registry,
	audit AuditSink,
	adapter ModelAdapter,
	logger *zap.Logger,
) *ToolRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolRouter{
		policy:   policyEngine,
		registry: registry,
		audit:    audit,
		adapter:  adapter,
		metrics:  noopMetrics{},
		logger:   logger,
	}
}

// SetMetricsHook 替换进程级计数回调
func (r *ToolRouter) SetMetricsHook(hook MetricsHook) {
	if hook != nil {
		r.metrics = hook
	}
}

// Run 执行带工具调用循环的聊天补全
func (r *ToolRouter) Run(ctx context.Context, request *entity.ChatRequest, manifest *config.Manifest) (*entity.ChatResponse, error) {
	requestID := NewRequestID()

	model := manifest.Models.Default
	if model == "" {
		model = request.Model
	}
	policyMode := string(manifest.Runtime.PolicyMode)
	appName := manifest.App.Name

	logger := r.logger.With(
		zap.String("request_id", requestID),
		zap.String("model", model),
	)

	var toolsUsed []string
	var tablesQueried []string

	stamp := func(e entity.AuditEntry) entity.AuditEntry {
		return e.WithApp(appName, model, policyMode)
	}

	r.audit.AppendBestEffort(stamp(entity.NewAuditEntry(requestID, entity.EventRequestStart)))

	// 首条消息不是 system 角色时前插生成的系统提示
	messages := make([]entity.Message, 0, len(request.Messages)+1)
	if len(request.Messages) > 0 && request.Messages[0].Role != entity.RoleSystem {
		systemPrompt := fmt.Sprintf("You are %s, a DomeKit-powered assistant.", appName)
		messages = append(messages, entity.NewTextMessage(entity.RoleSystem, systemPrompt))
	}
	messages = append(messages, request.Messages...)

	toolDefs := r.registry.OpenAIDefinitions()
	knobs := knobsFromManifest(manifest)

	lastMessage := entity.Message{Role: entity.RoleAssistant}

	for iteration := 0; iteration < MaxIterations; iteration++ {
		// 客户端断开 → 放弃本请求；request.end 允许缺席
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.metrics.IncModelCall()
		reply, err := r.adapter.Chat(ctx, messages, model, toolDefs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Error("Model backend call failed",
				zap.Int("iteration", iteration+1),
				zap.Error(err),
			)
			// 后端失败：已跑过的工具仍然记入 request.end
			r.audit.AppendBestEffort(stamp(entity.NewAuditEntry(requestID, entity.EventRequestEnd)).
				WithDetail("tools_used", usedOrEmpty(toolsUsed)))
			return nil, apperrors.NewBackendFailureError("model backend call failed", err)
		}
		lastMessage = reply

		if !reply.HasToolCalls() {
			break
		}

		messages = append(messages, reply)

		for _, tc := range reply.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]interface{}{}
			}

			decision := r.policy.CheckTool(tc.Name)
			if !decision.Allowed() {
				r.metrics.IncPolicyBlock()
				logger.Warn("Tool call blocked by policy",
					zap.String("tool", tc.Name),
					zap.String("rule", decision.Rule),
				)
				entry := stamp(entity.NewAuditEntry(requestID, entity.EventPolicyBlock)).
					WithDetail("tool", tc.Name).
					WithDetail("rule", decision.Rule).
					WithDetail("reason", decision.Reason)
				r.audit.AppendBestEffort(entry)

				denied, _ := json.Marshal(map[string]string{
					"error": "Policy denied: " + decision.Reason,
				})
				messages = append(messages, entity.NewToolResultMessage(tc.ID, string(denied)))
				continue
			}

			r.metrics.IncToolCall()
			callEntry := stamp(entity.NewAuditEntry(requestID, entity.EventToolCall)).
				WithDetail("tool", tc.Name).
				WithDetail("arguments", auditArguments(args, manifest))
			r.audit.AppendBestEffort(callEntry)

			payload := r.executeTool(ctx, tc, args, requestID, appName, policyMode, knobs)

			toolsUsed = append(toolsUsed, tc.Name)
			if tc.Name == "sql_query" {
				if query, ok := args["query"].(string); ok {
					for _, table := range TablesFromQuery(query) {
						if !contains(tablesQueried, table) {
							tablesQueried = append(tablesQueried, table)
						}
					}
				}
			}

			resultEntry := stamp(entity.NewAuditEntry(requestID, entity.EventToolResult)).
				WithDetail("tool", tc.Name).
				WithDetail("call_id", tc.ID)
			r.audit.AppendBestEffort(resultEntry)

			messages = append(messages, entity.NewToolResultMessage(tc.ID, payload))
		}
	}

	r.audit.AppendBestEffort(stamp(entity.NewAuditEntry(requestID, entity.EventRequestEnd)).
		WithDetail("tools_used", usedOrEmpty(toolsUsed)))

	// 迭代上限打满且最后回复仍带指令时，指令随消息暴露给调用方
	return &entity.ChatResponse{
		ID:      requestID,
		Object:  "chat.completion",
		Model:   model,
		Choices: []entity.Choice{{
			Index:        0,
			Message:      lastMessage,
			FinishReason: "stop",
		}},
		Trace: entity.TraceMeta{
			RequestID:     requestID,
			ToolsUsed:     usedOrEmpty(toolsUsed),
			TablesQueried: usedOrEmpty(tablesQueried),
			PolicyMode:    policyMode,
			Model:         model,
		},
	}, nil
}

// executeTool 执行单条指令并序列化结果载荷。
// 未知工具、参数校验失败、panic 一律折叠成错误信封，绝不外抛。
func (r *ToolRouter) executeTool(
	ctx context.Context,
	tc entity.ToolCallInfo,
	args map[string]interface{},
	requestID, appName, policyMode string,
	knobs domaintool.Knobs,
) (payload string) {
	marshal := func(v interface{}) string {
		raw, err := json.Marshal(v)
		if err != nil {
			return `{"error": "unserializable tool output", "success": false}`
		}
		return string(raw)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool panicked",
				zap.String("tool", tc.Name),
				zap.Any("panic", rec),
			)
			payload = marshal(map[string]interface{}{
				"error":   fmt.Sprintf("%v", rec),
				"success": false,
			})
		}
	}()

	impl, exists := r.registry.Get(tc.Name)
	if !exists {
		return marshal(map[string]interface{}{
			"error":   "Unknown tool: " + tc.Name,
			"success": false,
		})
	}

	if err := domaintool.ValidateArgs(impl.Definition(), args); err != nil {
		return marshal(map[string]interface{}{
			"error":   err.Error(),
			"success": false,
		})
	}

	tctx := &domaintool.Context{
		RequestID:  requestID,
		AppName:    appName,
		PolicyMode: policyMode,
		Knobs:      knobs,
	}

	output := impl.Run(ctx, tctx, args)
	if output.Error != "" {
		return marshal(map[string]interface{}{
			"error":   output.Error,
			"success": false,
		})
	}
	return marshal(map[string]interface{}{
		"result":  output.Result,
		"success": output.Success,
	})
}

// knobsFromManifest 从清单构造工具执行旋钮
func knobsFromManifest(m *config.Manifest) domaintool.Knobs {
	return domaintool.Knobs{
		SqliteAllow:      m.Policy.Data.Sqlite.Allow,
		FSAllowRead:      m.Policy.Data.Filesystem.AllowRead,
		FSAllowWrite:     m.Policy.Data.Filesystem.AllowWrite,
		VectorAllow:      m.Policy.Data.Vector.Allow,
		VectorAllowWrite: m.Policy.Data.Vector.AllowWrite,
		MaxRows:          m.MaxRowsFor("sql_query", 100),
		MaxBytes:         m.MaxBytesFor("read_file", 65536),
		VectorBackend:    m.VectorDB.Backend,
		DefaultTopK:      m.VectorDB.DefaultTopK,
	}
}

// auditArguments 按清单的脱敏开关决定入审计的参数形态
func auditArguments(args map[string]interface{}, m *config.Manifest) interface{} {
	if m.Audit.RedactPrompt {
		return "[redacted]"
	}
	return args
}

func usedOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func contains(s []string, v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}
