package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case StatusCompleted:
		return "[OK]"
	case StatusFailed:
		return "[FAIL]"
	case StatusRunning:
		return "[RUN]"
	default:
		return ""
	}
}

// RenderASCII renders a Model as text: one row of boxes per level, then the
// labeled transitions, which the level layout cannot show for loops.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			if node := model.node(nodeID); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if levelIdx < len(model.Levels)-1 && len(boxes) > 0 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	var labeled []Edge
	for _, e := range model.Edges {
		if e.Label != "" || e.Taken {
			labeled = append(labeled, e)
		}
	}
	if len(labeled) > 0 {
		b.WriteString("\ntransitions:\n")
		for _, e := range labeled {
			label := e.Label
			if label == "" {
				label = "default"
			}
			mark := ""
			if e.Taken {
				mark = " *"
			}
			fmt.Fprintf(&b, "  %s ─%s→ %s%s\n", e.From, label, e.To, mark)
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if s := node.Status; s != nil {
		if tag := statusTag(s.Status); tag != "" {
			contentLines = append(contentLines, tag)
		}
		if s.Attempts > 1 {
			contentLines = append(contentLines, fmt.Sprintf("%d attempts", s.Attempts))
		}
		if s.DurationMs > 0 {
			contentLines = append(contentLines, fmt.Sprintf("%dms", s.DurationMs))
		}
		if s.ErrorCode != "" {
			contentLines = append(contentLines, s.ErrorCode)
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		maxLen = max(maxLen, len(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}
	for row := range maxHeight {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
