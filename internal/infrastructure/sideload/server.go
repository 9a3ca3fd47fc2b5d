package sideload

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
	"github.com/domekit/domekit/internal/domain/policy"
	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/audit"
	"github.com/domekit/domekit/internal/infrastructure/config"
)

// Server 边车进程：用 stdio 行帧暴露同一套五个工具。
// 每次调用都走同样的策略 + 审计路径，并在 detail 里加 transport:"sidecar"。
type Server struct {
	policy   *policy.Engine
	registry *domaintool.Registry
	store    *audit.Store
	manifest *config.Manifest
	logger   *zap.Logger

	writeMu sync.Mutex // 串行化 stdout 写入
}

// NewServer 创建边车服务
func NewServer(
	policyEngine *policy.Engine,
	registry *domaintool.Registry,
	store *audit.Store,
	manifest *config.Manifest,
	logger *zap.Logger,
) *Server {
	return &Server{
		policy:   policyEngine,
		registry: registry,
		store:    store,
		manifest: manifest,
		logger:   logger.With(zap.String("transport", "sidecar")),
	}
}

// Serve 逐行读取请求直到 EOF 或 ctx 取消
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	reader := bufio.NewReaderSize(stdin, 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.handleLine(ctx, line, stdout)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read sidecar request: %w", err)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte, stdout io.Writer) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(stdout, newErrorResponse(nil, ErrParse, err.Error()))
		return
	}
	if req.Method == "" {
		s.write(stdout, newErrorResponse(req.ID, ErrInvalidRequest, "method is required"))
		return
	}

	switch req.Method {
	case "initialize":
		s.respond(stdout, req.ID, map[string]interface{}{
			"name":    s.manifest.App.Name,
			"version": s.manifest.App.Version,
			"tools":   s.registry.Names(),
		})
	case "tools/list":
		s.respond(stdout, req.ID, s.registry.Definitions())
	case "tools/call":
		s.handleToolCall(ctx, stdout, &req)
	default:
		s.write(stdout, newErrorResponse(req.ID, ErrMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method)))
	}
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, stdout io.Writer, req *Request) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		s.write(stdout, newErrorResponse(req.ID, ErrInvalidParams, "params must carry a tool name"))
		return
	}

	payload := s.runTool(ctx, params.Name, params.Arguments)
	s.respond(stdout, req.ID, payload)
}

// runTool 策略检查、执行并审计单次工具调用，返回 JSON 字符串载荷
func (s *Server) runTool(ctx context.Context, toolName string, args map[string]interface{}) string {
	if args == nil {
		args = map[string]interface{}{}
	}

	requestID := uuid.NewString()
	callID := uuid.NewString()

	appName := s.manifest.App.Name
	model := s.manifest.Models.Default
	policyMode := string(s.manifest.Runtime.PolicyMode)

	stamp := func(e entity.AuditEntry) entity.AuditEntry {
		return e.WithApp(appName, model, policyMode).WithDetail("transport", "sidecar")
	}

	decision := s.policy.CheckTool(toolName)
	if !decision.Allowed() {
		s.store.AppendBestEffort(stamp(entity.NewAuditEntry(requestID, entity.EventPolicyBlock)).
			WithDetail("tool", toolName).
			WithDetail("rule", decision.Rule).
			WithDetail("reason", decision.Reason))
		return "Policy denied: " + decision.Reason
	}

	s.store.AppendBestEffort(stamp(entity.NewAuditEntry(requestID, entity.EventToolCall)).
		WithDetail("tool", toolName).
		WithDetail("arguments", args))

	payload := s.execute(ctx, requestID, toolName, args)

	s.store.AppendBestEffort(stamp(entity.NewAuditEntry(requestID, entity.EventToolResult)).
		WithDetail("tool", toolName).
		WithDetail("call_id", callID))

	return payload
}

func (s *Server) execute(ctx context.Context, requestID, toolName string, args map[string]interface{}) (payload string) {
	marshal := func(v interface{}) string {
		raw, err := json.Marshal(v)
		if err != nil {
			return `{"error": "unserializable tool output", "success": false}`
		}
		return string(raw)
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Sidecar tool panicked",
				zap.String("tool", toolName),
				zap.Any("panic", rec),
			)
			payload = marshal(map[string]interface{}{
				"error":   fmt.Sprintf("%v", rec),
				"success": false,
			})
		}
	}()

	impl, exists := s.registry.Get(toolName)
	if !exists {
		return marshal(map[string]interface{}{"error": "Unknown tool: " + toolName})
	}

	if err := domaintool.ValidateArgs(impl.Definition(), args); err != nil {
		return marshal(map[string]interface{}{"error": err.Error(), "success": false})
	}

	tctx := &domaintool.Context{
		RequestID:  requestID,
		AppName:    s.manifest.App.Name,
		PolicyMode: string(s.manifest.Runtime.PolicyMode),
		Knobs:      knobsFromManifest(s.manifest),
	}

	output := impl.Run(ctx, tctx, args)
	if output.Error != "" {
		return marshal(map[string]interface{}{"error": output.Error, "success": false})
	}
	return marshal(map[string]interface{}{"result": output.Result, "success": true})
}

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

func (s *Server) respond(stdout io.Writer, id interface{}, result interface{}) {
	resp, err := newResponse(id, result)
	if err != nil {
		resp = newErrorResponse(id, ErrInternal, err.Error())
	}
	s.write(stdout, resp)
}

func (s *Server) write(stdout io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Sidecar response marshal failed", zap.Error(err))
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := stdout.Write(data); err != nil {
		s.logger.Error("Sidecar response write failed", zap.Error(err))
	}
}
