package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/concord-chat/chatsync/internal/models"
	"github.com/concord-chat/chatsync/internal/realtime"
)

// renderMainView renders the main chat interface
func (a *App) renderMainView() string {
	sidebarWidth := a.sidebarWidth()
	chatWidth := a.width - sidebarWidth - 2

	sidebar := a.renderSidebar(sidebarWidth, a.height-2)
	chat := a.renderChatPanel(chatWidth, a.height-2)

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, chat)
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, a.renderStatusBar())
}

// renderSidebar renders the conversation list
func (a *App) renderSidebar(width, height int) string {
	var b strings.Builder

	b.WriteString(a.styles.Header.Width(width - 2).Render("Conversations"))
	b.WriteString("\n\n")

	for i, conv := range a.conversations {
		name := conv.Title
		if name == "" {
			name = "#" + string(conv.ID)
		}
		if len(name) > width-4 {
			name = name[:width-7] + "..."
		}

		active := a.state.Active && conv.ID == a.state.Conversation.ID
		switch {
		case i == a.convIndex && a.focus == FocusSidebar:
			b.WriteString(a.styles.Selected.Width(width - 2).Render(name))
		case active:
			b.WriteString(a.styles.Title.Render("• " + name))
		default:
			b.WriteString(a.styles.Conversation.Render(name))
		}
		b.WriteString("\n")
	}

	if len(a.conversations) == 0 {
		b.WriteString(a.styles.Info.Italic(true).Render("No conversations"))
		b.WriteString("\n")
	}

	sidebarStyle := lipgloss.NewStyle().
		Width(width).
		Height(height).
		Border(lipgloss.RoundedBorder(), false, true, false, false).
		BorderForeground(lipgloss.Color(a.theme.Colors.Border))
	if a.focus == FocusSidebar {
		sidebarStyle = sidebarStyle.BorderForeground(lipgloss.Color(a.theme.Colors.Accent))
	}

	return sidebarStyle.Render(b.String())
}

// renderChatPanel renders the header, banners, messages, typing line and input
func (a *App) renderChatPanel(width, height int) string {
	title := "Select a conversation"
	if a.state.Active {
		title = a.state.Conversation.Title
		if title == "" {
			title = "#" + string(a.state.Conversation.ID)
		}
	}
	header := a.styles.Header.Width(width).Render(title)

	parts := []string{header}

	if pinned := a.state.Pinned; pinned != nil {
		parts = append(parts, a.styles.Banner.Width(width).Render("📌 "+snippet(pinned, width-6)))
	}
	if p := a.state.Preview; p != nil {
		parts = append(parts, a.styles.Banner.Width(width).Render("🖼 "+p.URL+"  (esc to close)"))
	}

	chatStyle := lipgloss.NewStyle().Width(width)
	if a.focus == FocusChat {
		chatStyle = chatStyle.Foreground(lipgloss.Color(a.theme.Colors.Foreground))
	}
	chatContent := a.chatViewport.View()
	if len(a.state.Messages) == 0 {
		chatContent = a.styles.Info.
			Italic(true).
			Width(width).
			Height(a.chatViewport.Height).
			Align(lipgloss.Center).
			Render("No messages yet. Say hello!")
	}
	parts = append(parts, chatStyle.Render(chatContent))

	typing := ""
	if a.state.PeerTyping {
		typing = a.peerName() + " is typing..."
	}
	parts = append(parts, a.styles.Typing.Height(1).Render(typing))

	if r := a.state.ReplyTo; r != nil {
		parts = append(parts, a.styles.Banner.Width(width).Render("↳ replying to "+snippet(r, width-20)))
	}

	inputStyle := a.styles.Input.Width(width - 2)
	if a.focus == FocusInput {
		inputStyle = inputStyle.BorderForeground(lipgloss.Color(a.theme.Colors.Accent))
	}
	parts = append(parts, inputStyle.Render(a.input.View()))

	return lipgloss.NewStyle().Height(height).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// updateChatContent rebuilds the chat viewport content
func (a *App) updateChatContent() {
	var content strings.Builder
	a.lineOf = a.lineOf[:0]
	line := 0

	var prev *models.Message
	for i, msg := range a.state.Messages {
		a.lineOf = append(a.lineOf, line)

		if prev == nil || prev.SenderID != msg.SenderID || msg.CreatedAt.Sub(prev.CreatedAt).Minutes() >= 5 {
			nameStyle := a.styles.UsernameOther
			if msg.SenderID == a.selfID {
				nameStyle = a.styles.UsernameSelf
			}
			name := msg.SenderName
			if name == "" {
				name = fmt.Sprintf("user %d", msg.SenderID)
			}
			content.WriteString(fmt.Sprintf("%s  %s\n",
				nameStyle.Render(name),
				a.styles.Timestamp.Render(msg.CreatedAt.Local().Format("15:04"))))
			line++
		}

		body := a.renderBody(msg)
		if i == a.selected && a.focus == FocusChat {
			body = a.styles.Selected.Render(body)
		}
		content.WriteString(body)
		content.WriteString("\n")
		line += strings.Count(body, "\n") + 1

		prev = msg
	}

	a.chatViewport.SetContent(content.String())
}

func (a *App) renderBody(msg *models.Message) string {
	if msg.IsUnsent {
		return a.styles.Tombstone.Render("This message was unsent")
	}

	var b strings.Builder
	if msg.IsReply() {
		target := "a message"
		for _, m := range a.state.Messages {
			if m.ID == msg.ReplyToID {
				target = snippet(m, 30)
				break
			}
		}
		b.WriteString(a.styles.Timestamp.Render("↳ " + target))
		b.WriteString("\n")
	}

	text := msg.Content
	if msg.Type == models.MessageTypeImage {
		text = "[image] " + text
	}
	b.WriteString(a.styles.Content.Render(text))
	if msg.IsEdited() {
		b.WriteString(" " + a.styles.Edited.Render("(edited)"))
	}
	if msg.SenderID == a.selfID {
		if mark := a.statusMark(msg); mark != "" {
			b.WriteString(" " + mark)
		}
	}
	return b.String()
}

// statusMark shows how far an own message has got
func (a *App) statusMark(msg *models.Message) string {
	switch msg.Status {
	case models.StatusSending:
		return a.styles.StatusPending.Render("…")
	case models.StatusPending:
		return a.styles.StatusPending.Render("◷ queued")
	case models.StatusFailed:
		return a.styles.StatusFailed.Render("✗ not sent")
	case models.StatusSent:
		return a.styles.StatusPending.Render("✓")
	case models.StatusDelivered:
		return a.styles.StatusPending.Render("✓✓")
	case models.StatusSeen:
		return a.styles.StatusSeen.Render("✓✓")
	}
	return ""
}

func (a *App) peerName() string {
	for _, m := range a.state.Messages {
		if m.SenderID != a.selfID && m.SenderName != "" {
			return m.SenderName
		}
	}
	if a.state.Conversation.Title != "" {
		return a.state.Conversation.Title
	}
	return "Someone"
}

// renderStatusBar renders the bottom status bar
func (a *App) renderStatusBar() string {
	var left string
	switch a.state.Connection {
	case realtime.StateOpen:
		left = lipgloss.NewStyle().Foreground(lipgloss.Color(a.theme.Colors.Success)).Render("● Connected")
	case realtime.StateConnecting:
		left = lipgloss.NewStyle().Foreground(lipgloss.Color(a.theme.Colors.Warning)).Render("◌ Connecting")
	case realtime.StateClosing:
		left = lipgloss.NewStyle().Foreground(lipgloss.Color(a.theme.Colors.Warning)).Render("◌ Closing")
	default:
		left = lipgloss.NewStyle().Foreground(lipgloss.Color(a.theme.Colors.Error)).Render("○ Disconnected")
	}
	if a.state.Queued > 0 {
		left += fmt.Sprintf("  |  %d queued", a.state.Queued)
	}

	right := "Tab: Navigate  |  r: Reply  p: Pin  |  Ctrl+T: Theme  |  Ctrl+C: Quit"

	center := ""
	switch {
	case a.statusError:
		center = a.styles.Error.Render(a.statusMessage)
	case a.notice != "":
		center = a.styles.Info.Render(a.notice)
	}

	space := a.width - lipgloss.Width(left) - lipgloss.Width(right) - lipgloss.Width(center) - 4
	var bar string
	if space > 0 {
		leftPad := space / 2
		bar = left + strings.Repeat(" ", leftPad) + center + strings.Repeat(" ", space-leftPad) + right
	} else {
		bar = left + "  " + center
	}

	return lipgloss.NewStyle().
		Background(lipgloss.Color(a.theme.Colors.Highlight)).
		Foreground(lipgloss.Color(a.theme.Colors.Foreground)).
		Width(a.width).
		Padding(0, 1).
		Render(bar)
}

// snippet shortens a message to one line of at most n characters
func snippet(m *models.Message, n int) string {
	text := strings.ReplaceAll(m.Content, "\n", " ")
	if m.IsUnsent {
		text = "unsent message"
	}
	if n < 4 {
		n = 4
	}
	if r := []rune(text); len(r) > n {
		text = string(r[:n-3]) + "..."
	}
	return text
}
