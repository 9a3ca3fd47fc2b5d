package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
	llm "github.com/domekit/domekit/internal/infrastructure/llm"
)

func init() {
	llm.RegisterFactory("ollama", func(cfg llm.AdapterConfig, logger *zap.Logger) llm.Adapter {
		return New(cfg, logger)
	})
}

// Adapter is the Ollama /api/chat backend adapter.
// It translates canonical messages into the backend wire shape and back,
// falling back to prompt-based tool calling for model families that do not
// support native tools.
type Adapter struct {
	name             string
	baseURL          string
	noNativeFamilies map[string]bool
	client           *http.Client
	logger           *zap.Logger
}

// New creates an Ollama adapter.
func New(cfg llm.AdapterConfig, logger *zap.Logger) *Adapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	families := make(map[string]bool, len(cfg.NoNativeToolFamilies))
	for _, f := range cfg.NoNativeToolFamilies {
		families[f] = true
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}

	return &Adapter{
		name:             "ollama",
		baseURL:          baseURL,
		noNativeFamilies: families,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger.With(zap.String("backend", "ollama")),
	}
}

// Compile-time interface check
var _ llm.Adapter = (*Adapter)(nil)

// Name returns the backend identifier.
func (a *Adapter) Name() string { return a.name }

// Chat sends the conversation to the backend and parses the reply.
func (a *Adapter) Chat(ctx context.Context, messages []entity.Message, model string, tools []map[string]interface{}) (entity.Message, error) {
	promptTools := len(tools) > 0 && !a.supportsNativeTools(model)

	payload := chatRequest{
		Model:    model,
		Messages: a.buildMessages(messages, promptTools),
		Stream:   false,
	}

	if promptTools {
		injectToolPrompt(&payload, tools)
	} else if len(tools) > 0 {
		payload.Tools = tools
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return entity.Message{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return entity.Message{}, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return entity.Message{}, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return entity.Message{}, fmt.Errorf("read backend response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return entity.Message{}, fmt.Errorf("backend error %d: %s", resp.StatusCode, string(respBody))
	}

	return a.parseResponse(respBody)
}

// Reachability probes GET /api/tags for the health endpoint.
func (a *Adapter) Reachability(ctx context.Context) (bool, []string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return false, nil
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return true, nil
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return true, models
}

// supportsNativeTools 按模型族前缀闭集判断
func (a *Adapter) supportsNativeTools(model string) bool {
	return !a.noNativeFamilies[modelFamily(model)]
}

// modelFamily 提取模型族名，如 "gemma3:12b" → "gemma3"
func modelFamily(model string) string {
	family := strings.SplitN(model, ":", 2)[0]
	if idx := strings.LastIndex(family, "/"); idx >= 0 {
		family = family[idx+1:]
	}
	return family
}

// injectToolPrompt 把工具描述拼入系统消息（无系统消息则前插一条）
func injectToolPrompt(payload *chatRequest, tools []map[string]interface{}) {
	toolPrompt := buildToolPrompt(tools)
	for i := range payload.Messages {
		if payload.Messages[i].Role == "system" {
			payload.Messages[i].Content += toolPrompt
			return
		}
	}
	payload.Messages = append([]wireMessage{{Role: "system", Content: toolPrompt}}, payload.Messages...)
}

// buildMessages 规范消息 → 后端线格式。
//
// promptTools=true（模型不支持原生工具）时：
//   - 带 tool_calls 的 assistant 消息 → 含 fenced JSON 文本的 assistant 消息
//   - tool 结果消息 → 合成的 user 消息 "Tool result: <payload>"
func (a *Adapter) buildMessages(messages []entity.Message, promptTools bool) []wireMessage {
	out := make([]wireMessage, 0, len(messages))

	for _, msg := range messages {
		m := wireMessage{
			Role:    string(msg.Role),
			Content: msg.Text(),
		}

		if promptTools {
			switch {
			case msg.Role == entity.RoleTool:
				m.Role = "user"
				m.Content = "Tool result: " + msg.Text()
			case msg.HasToolCalls():
				tc := msg.ToolCalls[0]
				args := tc.Arguments
				if args == nil {
					args = map[string]interface{}{}
				}
				callJSON, _ := json.Marshal(map[string]interface{}{
					"tool_call": map[string]interface{}{
						"name":      tc.Name,
						"arguments": args,
					},
				})
				m.Content = strings.TrimSpace(
					fmt.Sprintf("%s\n```json\n%s\n```", msg.Text(), callJSON))
			}
			out = append(out, m)
			continue
		}

		// 原生工具模式 — 直通
		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]interface{}{}
			}
			m.ToolCalls = append(m.ToolCalls, wireToolCall{
				ID: tc.ID,
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		m.ToolCallID = msg.ToolCallID
		out = append(out, m)
	}

	return out
}

// parseResponse 后端回复 → 规范 assistant 消息。
// 解释优先级（高者胜）：
//  1. 结构化 tool_calls 数组
//  2. 文本中的 fenced JSON {"tool_call": ...} 块
//  3. 以 '{' 开头、修复后解析出 {name, arguments|parameters} 的整段 JSON
//  4. 原样文本内容
func (a *Adapter) parseResponse(body []byte) (entity.Message, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return entity.Message{}, fmt.Errorf("parse backend response: %w", err)
	}

	content := resp.Message.Content
	msg := entity.Message{Role: entity.RoleAssistant}
	if content != "" {
		msg.Content = &content
	}

	// 1. 原生结构化 tool_calls
	if len(resp.Message.ToolCalls) > 0 {
		for i, tc := range resp.Message.ToolCalls {
			callID := tc.ID
			if callID == "" {
				callID = fmt.Sprintf("call_%d", i)
			}
			args := tc.Function.Arguments
			if args == nil {
				args = map[string]interface{}{}
			}
			msg.ToolCalls = append(msg.ToolCalls, entity.ToolCallInfo{
				ID:        callID,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
		return msg, nil
	}

	// 2. fenced / bare {"tool_call": ...}
	if tc, remaining := extractToolCall(content); tc != nil {
		msg.Content = remaining
		msg.ToolCalls = []entity.ToolCallInfo{*tc}
		return msg, nil
	}

	// 3. 整段 JSON 指令（含修复垫片）
	if tc := extractBareDirective(content); tc != nil {
		msg.Content = nil
		msg.ToolCalls = []entity.ToolCallInfo{*tc}
		return msg, nil
	}

	// 4. 原样文本
	return msg, nil
}
