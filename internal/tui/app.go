// Package tui is the terminal front-end. It hosts a chat.Session and runs
// every session call on the bubbletea event loop.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/concord-chat/chatsync/internal/chat"
	"github.com/concord-chat/chatsync/internal/models"
	"github.com/concord-chat/chatsync/internal/themes"
)

// FocusArea represents which area of the UI has focus
type FocusArea int

const (
	FocusSidebar FocusArea = iota
	FocusChat
	FocusInput
)

// rowHeight converts terminal rows into the units scroll metrics use, so
// the configured near-bottom threshold of 100 is five rows
const rowHeight = 20

// RunMsg carries a function posted to the session loop
type RunMsg struct {
	Fn func()
}

// selectMsg asks the app to open the conversation at Index
type selectMsg struct {
	Index int
}

// App represents the main application state
type App struct {
	// Window dimensions
	width  int
	height int

	focus FocusArea

	theme     *themes.Theme
	styles    *themes.Styles
	themesDir string
	themeName string

	session       *chat.Session
	selfID        int64
	conversations []chat.Conversation
	convIndex     int

	// state is the last snapshot taken from the session; dirty marks it stale
	state    chat.State
	dirty    bool
	selected int   // highlighted message in the chat panel
	lineOf   []int // first content line of each message

	input        textinput.Model
	chatViewport viewport.Model
	reported     chat.ScrollMetrics

	statusMessage string
	statusError   bool
	notice        string
}

// NewApp creates the application for session. The session's loop must be
// delivered through Run.
func NewApp(session *chat.Session, selfID int64, conversations []chat.Conversation) *App {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 2000
	input.Width = 50
	input.Focus()

	theme := themes.GetDefaultTheme()

	a := &App{
		focus:         FocusInput,
		theme:         theme,
		styles:        theme.BuildStyles(),
		themeName:     themes.DefaultName,
		session:       session,
		selfID:        selfID,
		conversations: conversations,
		selected:      -1,
		input:         input,
		chatViewport:  viewport.New(0, 0),
	}
	session.OnChange(func() { a.dirty = true })
	session.SetViewport(anchorView{a})
	a.state = session.State()
	return a
}

// SetTheme sets the application theme
func (a *App) SetTheme(theme *themes.Theme) {
	a.theme = theme
	a.styles = theme.BuildStyles()
	a.dirty = true
}

// UseThemes enables theme cycling over the built-in themes and those in dir
func (a *App) UseThemes(dir, current string) {
	a.themesDir = dir
	if current != "" {
		a.themeName = current
	}
}

// nextTheme switches to the theme after the current one
func (a *App) nextTheme() {
	names := themes.ListThemes(a.themesDir)
	if len(names) == 0 {
		return
	}
	next := names[0]
	for i, n := range names {
		if n == a.themeName {
			next = names[(i+1)%len(names)]
			break
		}
	}

	theme, err := themes.GetTheme(a.themesDir, next)
	if err != nil {
		a.notice = err.Error()
		return
	}
	a.themeName = next
	a.SetTheme(theme)
	a.notice = fmt.Sprintf("Theme set to %q", theme.Meta.Name)
}

// Run starts the program and delivers the session loop's work to it until
// the program exits.
func Run(ctx context.Context, app *App, loop *chat.Loop, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(app, opts...)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go loop.Run(loopCtx, func(fn func()) {
		p.Send(RunMsg{Fn: fn})
	})

	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		func() tea.Msg { return selectMsg{Index: 0} },
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case RunMsg:
		msg.Fn()

	case selectMsg:
		a.selectConversation(msg.Index)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.updateViewportSize()

	case tea.KeyMsg:
		cmd, handled := a.handleKeyPress(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		if !handled {
			cmds = append(cmds, a.updateFocused(msg))
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		a.chatViewport, cmd = a.chatViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	if a.dirty {
		a.refresh()
	}
	a.reportScroll()

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}
	return a.renderMainView()
}

// handleKeyPress handles keys that are not plain input. It reports whether
// the key was consumed.
func (a *App) handleKeyPress(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "ctrl+q":
		a.session.Close()
		return tea.Quit, true

	case "tab":
		a.cycleFocus()
		return nil, true

	case "shift+tab":
		a.cycleFocusReverse()
		return nil, true

	case "ctrl+t":
		a.nextTheme()
		return nil, true
	}

	switch a.focus {
	case FocusSidebar:
		switch msg.String() {
		case "up", "k":
			a.navigateSidebar(-1)
		case "down", "j":
			a.navigateSidebar(1)
		case "enter":
			a.selectConversation(a.convIndex)
			a.focus = FocusInput
			a.input.Focus()
		}
		return nil, true

	case FocusChat:
		switch msg.String() {
		case "up", "k":
			a.moveSelection(-1)
		case "down", "j":
			a.moveSelection(1)
		case "pgup":
			a.chatViewport.HalfViewUp()
		case "pgdown":
			a.chatViewport.HalfViewDown()
		case "r":
			if m := a.selectedMessage(); m != nil {
				a.session.Reply(m.ID)
				a.focus = FocusInput
				a.input.Focus()
			}
		case "p":
			if m := a.selectedMessage(); m != nil {
				a.session.TogglePin(m.ID)
			}
		case "o":
			if m := a.selectedMessage(); m != nil && m.Type == models.MessageTypeImage {
				a.session.SetPreview(chat.Preview{MessageID: m.ID, URL: m.Content})
			}
		case "esc":
			a.session.ClearPreview()
			a.session.CancelReply()
		}
		return nil, true

	default:
		switch msg.String() {
		case "enter":
			a.handleSendMessage()
			return nil, true
		case "esc":
			a.session.StopTyping()
			a.session.CancelReply()
			a.focus = FocusSidebar
			a.input.Blur()
			return nil, true
		}
		return nil, false
	}
}

// updateFocused passes unconsumed keys to the input and reports keystrokes
func (a *App) updateFocused(msg tea.Msg) tea.Cmd {
	if a.focus != FocusInput {
		return nil
	}

	before := a.input.Value()
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)

	switch after := a.input.Value(); {
	case after == before:
	case strings.TrimSpace(after) == "":
		a.session.StopTyping()
	default:
		a.session.StartTyping()
	}
	return cmd
}

// cycleFocus moves focus to the next area
func (a *App) cycleFocus() {
	switch a.focus {
	case FocusSidebar:
		a.focus = FocusChat
		a.selectLast()
	case FocusChat:
		a.focus = FocusInput
		a.input.Focus()
	case FocusInput:
		a.focus = FocusSidebar
		a.input.Blur()
	}
}

// cycleFocusReverse moves focus to the previous area
func (a *App) cycleFocusReverse() {
	switch a.focus {
	case FocusSidebar:
		a.focus = FocusInput
		a.input.Focus()
	case FocusChat:
		a.focus = FocusSidebar
	case FocusInput:
		a.focus = FocusChat
		a.input.Blur()
		a.selectLast()
	}
}

// navigateSidebar moves the conversation cursor, wrapping around
func (a *App) navigateSidebar(delta int) {
	if len(a.conversations) == 0 {
		return
	}
	a.convIndex += delta
	if a.convIndex < 0 {
		a.convIndex = len(a.conversations) - 1
	} else if a.convIndex >= len(a.conversations) {
		a.convIndex = 0
	}
}

func (a *App) selectConversation(index int) {
	if index < 0 || index >= len(a.conversations) {
		return
	}
	a.convIndex = index
	a.input.Reset()
	a.selected = -1
	a.session.SelectConversation(a.conversations[index])
}

func (a *App) handleSendMessage() {
	content := strings.TrimSpace(a.input.Value())
	if content == "" {
		return
	}
	if _, ok := a.session.SendMessage(content); ok {
		a.input.Reset()
	}
}

func (a *App) selectLast() {
	a.selected = len(a.state.Messages) - 1
}

func (a *App) moveSelection(delta int) {
	n := len(a.state.Messages)
	if n == 0 {
		return
	}
	a.selected = min(max(a.selected+delta, 0), n-1)
	a.updateChatContent()

	line := a.lineOf[a.selected]
	switch {
	case line < a.chatViewport.YOffset:
		a.chatViewport.SetYOffset(line)
	case line >= a.chatViewport.YOffset+a.chatViewport.Height:
		a.chatViewport.SetYOffset(line - a.chatViewport.Height + 1)
	}
}

func (a *App) selectedMessage() *models.Message {
	if a.selected < 0 || a.selected >= len(a.state.Messages) {
		return nil
	}
	m := a.state.Messages[a.selected]
	if m.IsTemp || m.IsUnsent {
		return nil
	}
	return m
}

// refresh takes a new snapshot of the session and redraws the messages
func (a *App) refresh() {
	a.dirty = false
	a.state = a.session.State()
	if a.selected >= len(a.state.Messages) {
		a.selected = len(a.state.Messages) - 1
	}

	a.statusMessage = a.state.LastError
	a.statusError = a.state.LastError != ""
	a.updateChatContent()
}

// metrics returns the chat viewport's scroll position in scroll units
func (a *App) metrics() chat.ScrollMetrics {
	return chat.ScrollMetrics{
		Offset:   float64(a.chatViewport.YOffset * rowHeight),
		Viewport: float64(a.chatViewport.Height * rowHeight),
		Content:  float64(a.chatViewport.TotalLineCount() * rowHeight),
	}
}

// reportScroll tells the session when the view has moved
func (a *App) reportScroll() {
	m := a.metrics()
	if m == a.reported {
		return
	}
	a.reported = m
	a.session.OnScroll(m)
	if a.dirty {
		a.refresh()
	}
}

// updateViewportSize updates viewport dimensions based on window size
func (a *App) updateViewportSize() {
	sidebarWidth := a.sidebarWidth()
	chatWidth := a.width - sidebarWidth - 2
	chatHeight := a.height - 8 // header, banners, typing, input and status

	a.chatViewport.Width = max(chatWidth, 10)
	a.chatViewport.Height = max(chatHeight, 1)
	a.input.Width = max(chatWidth-6, 10)
	a.updateChatContent()
}

func (a *App) sidebarWidth() int {
	return min(max(a.width/5, 20), 30)
}

// anchorView lets the session's scroll coordinator move the chat viewport
type anchorView struct {
	a *App
}

func (v anchorView) ScrollLastIntoView() bool {
	if v.a.dirty {
		v.a.refresh()
	}
	if len(v.a.state.Messages) == 0 {
		return false
	}
	v.a.chatViewport.GotoBottom()
	return true
}

func (v anchorView) ScrollToEnd() {
	v.a.chatViewport.GotoBottom()
}
