package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/domekit/domekit/internal/domain/entity"
)

var (
	colorCyan   = lipgloss.Color("#00D7D7")
	colorGray   = lipgloss.Color("#808080")
	colorYellow = lipgloss.Color("#FFD700")
)

// Renderer 终端输出渲染：markdown 回答 + trace 摘要
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// NewRenderer 创建渲染器
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{
		glamour: r,
		width:   width,
	}
}

// RenderMarkdown 渲染 markdown 文本
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// RenderTrace 渲染响应 trace 摘要行
func (r *Renderer) RenderTrace(trace entity.TraceMeta) string {
	grayStyle := lipgloss.NewStyle().Foreground(colorGray)
	cyanStyle := lipgloss.NewStyle().Foreground(colorCyan)

	parts := []string{
		grayStyle.Render("request " + trace.RequestID),
		grayStyle.Render("mode " + trace.PolicyMode),
	}
	if len(trace.ToolsUsed) > 0 {
		parts = append(parts, cyanStyle.Render("tools "+strings.Join(trace.ToolsUsed, ",")))
	}
	if len(trace.TablesQueried) > 0 {
		parts = append(parts, cyanStyle.Render("tables "+strings.Join(trace.TablesQueried, ",")))
	}

	return "  " + strings.Join(parts, grayStyle.Render(" | "))
}

// RenderPendingToolCalls 渲染迭代上限打满时仍悬挂的指令
func (r *Renderer) RenderPendingToolCalls(calls []entity.ToolCallInfo) string {
	if len(calls) == 0 {
		return ""
	}
	yellowStyle := lipgloss.NewStyle().Foreground(colorYellow)
	var sb strings.Builder
	for _, tc := range calls {
		sb.WriteString(yellowStyle.Render(fmt.Sprintf("  ⚠ pending tool call: %s", tc.Name)))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
