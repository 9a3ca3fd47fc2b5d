package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/domekit/domekit/internal/domain/entity"
)

// REPL 本机交互客户端：逐行读取问题，POST 到回环网关的
// /v1/chat/completions，渲染 markdown 回答与 trace。
type REPL struct {
	baseURL  string
	model    string
	client   *http.Client
	renderer *Renderer
	in       io.Reader
	out      io.Writer
}

// Config REPL 配置
type Config struct {
	BaseURL string
	Model   string
	Width   int
}

// NewREPL 创建 REPL
func NewREPL(cfg Config) *REPL {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	return &REPL{
		baseURL: baseURL,
		model:   cfg.Model,
		client: &http.Client{
			Timeout: 310 * time.Second, // 网关侧模型调用上限是 300 秒
		},
		renderer: NewRenderer(cfg.Width),
		in:       os.Stdin,
		out:      os.Stdout,
	}
}

// Run 交互循环，EOF 或 /quit 退出
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "domekit repl — ask away (/quit to exit)")

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(r.out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		if err := r.ask(ctx, line); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *REPL) ask(ctx context.Context, question string) error {
	request := entity.ChatRequest{
		Model: r.model,
		Messages: []entity.Message{
			entity.NewTextMessage(entity.RoleUser, question),
		},
	}

	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp entity.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return fmt.Errorf("parse gateway response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return fmt.Errorf("gateway returned no choices")
	}

	msg := chatResp.Choices[0].Message
	if text := msg.Text(); text != "" {
		fmt.Fprintln(r.out, r.renderer.RenderMarkdown(text))
	}
	if pending := r.renderer.RenderPendingToolCalls(msg.ToolCalls); pending != "" {
		fmt.Fprintln(r.out, pending)
	}
	fmt.Fprintln(r.out, r.renderer.RenderTrace(chatResp.Trace))
	return nil
}
