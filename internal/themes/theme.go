package themes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pelletier/go-toml/v2"
)

// DefaultName is used when no theme is configured
const DefaultName = "dracula"

// ErrNotFound is returned for a theme that is neither built in nor on disk
var ErrNotFound = errors.New("theme not found")

// Theme represents a color theme for the chat view
type Theme struct {
	Meta   ThemeMeta   `toml:"meta"`
	Colors ThemeColors `toml:"colors"`
}

// ThemeMeta contains metadata about the theme
type ThemeMeta struct {
	Name    string `toml:"name"`
	Author  string `toml:"author"`
	Variant string `toml:"variant"` // "dark" or "light"
}

// ThemeColors maps colors to chat view purposes
type ThemeColors struct {
	Background string `toml:"background"`
	Foreground string `toml:"foreground"`
	Muted      string `toml:"muted"`
	Accent     string `toml:"accent"`
	Self       string `toml:"self"`
	Peer       string `toml:"peer"`
	Highlight  string `toml:"highlight"`
	Border     string `toml:"border"`
	Error      string `toml:"error"`
	Warning    string `toml:"warning"`
	Success    string `toml:"success"`
	Info       string `toml:"info"`
}

// Styles contains pre-computed lipgloss styles for the theme
type Styles struct {
	Header        lipgloss.Style
	Title         lipgloss.Style
	Conversation  lipgloss.Style
	Selected      lipgloss.Style
	UsernameSelf  lipgloss.Style
	UsernameOther lipgloss.Style
	Timestamp     lipgloss.Style
	Content       lipgloss.Style
	Tombstone     lipgloss.Style
	Edited        lipgloss.Style
	Typing        lipgloss.Style
	Banner        lipgloss.Style // pinned and reply bars
	Input         lipgloss.Style

	StatusPending lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusSeen    lipgloss.Style

	Error lipgloss.Style
	Info  lipgloss.Style
}

var builtin = map[string]Theme{
	"dracula": {
		Meta: ThemeMeta{Name: "Dracula", Author: "Zeno Rocha", Variant: "dark"},
		Colors: ThemeColors{
			Background: "#282A36",
			Foreground: "#F8F8F2",
			Muted:      "#6272A4",
			Accent:     "#BD93F9",
			Self:       "#BD93F9",
			Peer:       "#8BE9FD",
			Highlight:  "#44475A",
			Border:     "#6272A4",
			Error:      "#FF5555",
			Warning:    "#FFB86C",
			Success:    "#50FA7B",
			Info:       "#8BE9FD",
		},
	},
	"solarized-light": {
		Meta: ThemeMeta{Name: "Solarized Light", Author: "Ethan Schoonover", Variant: "light"},
		Colors: ThemeColors{
			Background: "#FDF6E3",
			Foreground: "#657B83",
			Muted:      "#93A1A1",
			Accent:     "#268BD2",
			Self:       "#6C71C4",
			Peer:       "#2AA198",
			Highlight:  "#EEE8D5",
			Border:     "#93A1A1",
			Error:      "#DC322F",
			Warning:    "#CB4B16",
			Success:    "#859900",
			Info:       "#268BD2",
		},
	},
}

// LoadTheme loads a theme from a TOML file. Colors the file leaves out
// fall back to the default theme.
func LoadTheme(path string) (*Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme file: %w", err)
	}

	theme := GetDefaultTheme()
	if err := toml.Unmarshal(data, theme); err != nil {
		return nil, fmt.Errorf("failed to parse theme file: %w", err)
	}

	return theme, nil
}

// GetTheme loads a theme by name. dir, when set, is searched first for
// <name>.toml so users can override the built-in themes.
func GetTheme(dir, name string) (*Theme, error) {
	if name == "" {
		name = DefaultName
	}

	if dir != "" {
		theme, err := LoadTheme(filepath.Join(dir, name+".toml"))
		if err == nil {
			return theme, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	t, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return &t, nil
}

// ListThemes returns the built-in theme names plus any in dir
func ListThemes(dir string) []string {
	seen := make(map[string]bool)
	var names []string
	for name := range builtin {
		seen[name] = true
		names = append(names, name)
	}

	if dir != "" {
		entries, _ := os.ReadDir(dir)
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".toml")
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	sort.Strings(names)
	return names
}

// BuildStyles creates lipgloss styles from a theme
func (t *Theme) BuildStyles() *Styles {
	c := t.Colors
	s := &Styles{}

	s.Header = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground)).
		Background(lipgloss.Color(c.Highlight)).
		Padding(0, 1)

	s.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Accent)).
		Bold(true)

	s.Conversation = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground)).
		PaddingLeft(2)

	s.Selected = lipgloss.NewStyle().
		Background(lipgloss.Color(c.Highlight)).
		Foreground(lipgloss.Color(c.Foreground)).
		PaddingLeft(2).
		Bold(true)

	s.UsernameSelf = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Self)).
		Bold(true)

	s.UsernameOther = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Peer)).
		Bold(true)

	s.Timestamp = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Muted)).
		Faint(true)

	s.Content = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground))

	s.Tombstone = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Muted)).
		Italic(true)

	s.Edited = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Muted))

	s.Typing = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Muted)).
		Italic(true)

	s.Banner = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground)).
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(lipgloss.Color(c.Accent)).
		PaddingLeft(1)

	s.Input = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(c.Border)).
		Padding(0, 1)

	s.StatusPending = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Warning))

	s.StatusFailed = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Error))

	s.StatusSeen = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Success))

	s.Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Error))

	s.Info = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Info))

	return s
}

// GetDefaultTheme returns a copy of the default Dracula theme
func GetDefaultTheme() *Theme {
	t := builtin[DefaultName]
	return &t
}
