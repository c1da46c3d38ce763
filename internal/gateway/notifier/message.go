package notifier

import (
	"strings"
	"time"
)

const maxMessageLen = 3800

// MessageSection 是通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的推送。
type StructuredMessage struct {
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// AddSection 追加段落，空段落会在渲染时被跳过。
func (m *StructuredMessage) AddSection(title string, lines ...string) {
	m.Sections = append(m.Sections, MessageSection{Title: title, Lines: lines})
}

// RenderMarkdown 把正文包进代码块，供 Telegram Markdown 使用。
func (m StructuredMessage) RenderMarkdown() string {
	return m.render(true)
}

// RenderPlain 用于日志输出。
func (m StructuredMessage) RenderPlain() string {
	return m.render(false)
}

func (m StructuredMessage) render(fenced bool) string {
	var b strings.Builder
	if title := strings.TrimSpace(m.Title); title != "" {
		b.WriteString("--- " + escape(title) + " ---\n\n")
	}
	body := renderSections(m.Sections)
	if body != "" {
		if fenced {
			b.WriteString("```\n" + body + "```\n\n")
		} else {
			b.WriteString(body + "\n")
		}
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escape(footer) + "\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("Time: " + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxMessageLen {
		out = out[:maxMessageLen] + "..."
	}
	return out
}

func renderSections(secs []MessageSection) string {
	var blocks []string
	for _, sec := range secs {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		var b strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(escape(title) + "\n")
		}
		for _, line := range lines {
			b.WriteString(escape(line) + "\n")
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n")
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func escape(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
