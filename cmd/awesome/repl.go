package main

import (
	"context"
	"flag"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	lua "github.com/yuin/gopher-lua"
)

const transcriptLimit = 200

// replTheme follows the default awesome theme colours.
type replTheme struct {
	prompt lipgloss.Style
	result lipgloss.Style
	err    lipgloss.Style
	muted  lipgloss.Style
	title  lipgloss.Style
	name   lipgloss.Style
	panel  lipgloss.Style
}

func newREPLTheme() replTheme {
	focus := lipgloss.Color("#535d6c")
	urgent := lipgloss.Color("#ff0000")
	normal := lipgloss.Color("#aaaaaa")
	accent := lipgloss.Color("#ffaa00")
	return replTheme{
		prompt: lipgloss.NewStyle().Foreground(accent).Bold(true),
		result: lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff")),
		err:    lipgloss.NewStyle().Foreground(urgent),
		muted:  lipgloss.NewStyle().Foreground(normal),
		title:  lipgloss.NewStyle().Background(focus).Foreground(lipgloss.Color("#ffffff")).Bold(true).Padding(0, 1),
		name:   lipgloss.NewStyle().Foreground(accent),
		panel:  lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(focus).Padding(0, 1),
	}
}

var luaKeywords = []string{
	"and", "break", "do", "else", "elseif", "end", "false", "for", "function",
	"if", "in", "local", "nil", "not", "or", "repeat", "return", "then", "true",
	"until", "while",
}

type replKeys struct {
	Previous key.Binding
	Next     key.Binding
	Submit   key.Binding
	Complete key.Binding
	Clear    key.Binding
	Classes  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k replKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Classes, k.Clear, k.Quit}
}

func (k replKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Previous, k.Next, k.Submit, k.Complete},
		{k.Classes, k.Clear, k.Help, k.Quit},
	}
}

var defaultREPLKeys = replKeys{
	Previous: key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "previous input")),
	Next:     key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "next input")),
	Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "evaluate")),
	Complete: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "complete")),
	Clear:    key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear")),
	Classes:  key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "classes")),
	Help:     key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "help")),
	Quit:     key.NewBinding(key.WithKeys("ctrl+c", "ctrl+d"), key.WithHelp("ctrl+c", "quit")),
}

type transcriptEntry struct {
	input  string
	output string
	isErr  bool
}

type replModel struct {
	input       textinput.Model
	help        help.Model
	keys        replKeys
	theme       replTheme
	config      *fileConfig
	session     *session
	transcript  []transcriptEntry
	inputs      []string
	recall      int
	width       int
	height      int
	showClasses bool
	quitting    bool
	ready       bool
}

func newREPLModel(config *fileConfig) (replModel, error) {
	s, err := openSession(context.Background(), config)
	if err != nil {
		return replModel{}, err
	}
	theme := newREPLTheme()

	in := textinput.New()
	in.Prompt = "lua> "
	in.PromptStyle = theme.prompt
	in.Placeholder = "expression or statement"
	in.CharLimit = 1000
	in.Width = 60
	in.Focus()

	return replModel{
		input:   in,
		help:    help.New(),
		keys:    defaultREPLKeys,
		theme:   theme,
		config:  config,
		session: s,
		recall:  -1,
	}, nil
}

func (m replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-len(m.input.Prompt)-2, 10)
		m.help.Width = msg.Width
		m.ready = true
		return m, nil
	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m replModel) handleKey(msg tea.KeyMsg) (replModel, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit, true
	case key.Matches(msg, m.keys.Clear):
		m.transcript = nil
	case key.Matches(msg, m.keys.Classes):
		m.showClasses = !m.showClasses
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Previous):
		m = m.recallInput(-1)
	case key.Matches(msg, m.keys.Next):
		m = m.recallInput(1)
	case key.Matches(msg, m.keys.Complete):
		m = m.handleAutocomplete()
	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	default:
		return m, nil, false
	}
	return m, nil, true
}

// recallInput moves through earlier inputs; stepping past the newest one
// returns to an empty prompt.
func (m replModel) recallInput(step int) replModel {
	if len(m.inputs) == 0 {
		return m
	}
	switch {
	case m.recall == -1 && step < 0:
		m.recall = len(m.inputs) - 1
	case m.recall == -1:
		return m
	default:
		m.recall += step
	}
	if m.recall < 0 {
		m.recall = 0
	}
	if m.recall >= len(m.inputs) {
		m.recall = -1
		m.input.SetValue("")
		return m
	}
	m.input.SetValue(m.inputs[m.recall])
	m.input.CursorEnd()
	return m
}

func (m replModel) submit() (replModel, tea.Cmd, bool) {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	m.recall = -1
	if line == "" {
		return m, nil, true
	}
	if strings.HasPrefix(line, ":") {
		next, cmd := m.handleCommand(line)
		return next, cmd, true
	}
	output, isErr := m.evaluate(line)
	m.inputs = append(m.inputs, line)
	m = m.record(line, output, isErr)
	return m, nil, true
}

func (m replModel) record(input, output string, isErr bool) replModel {
	m.transcript = append(m.transcript, transcriptEntry{input: input, output: output, isErr: isErr})
	if over := len(m.transcript) - transcriptLimit; over > 0 {
		m.transcript = slices.Delete(m.transcript, 0, over)
	}
	return m
}

func (m replModel) handleCommand(line string) (replModel, tea.Cmd) {
	switch name := strings.Fields(line)[0]; name {
	case ":help", ":h":
		m.help.ShowAll = !m.help.ShowAll
	case ":clear", ":c":
		m.transcript = nil
	case ":classes", ":k":
		m.showClasses = !m.showClasses
	case ":reset", ":r":
		fresh, err := openSession(context.Background(), m.config)
		if err != nil {
			return m.record(line, err.Error(), true), nil
		}
		m.session.Close()
		m.session = fresh
		return m.record(line, "runtime reset, "+fresh.runtime.ConfigSummary(), false), nil
	case ":quit", ":q":
		m.quitting = true
		return m, tea.Quit
	default:
		return m.record(line, "unknown command "+name, true), nil
	}
	return m, nil
}

func (m replModel) handleAutocomplete() replModel {
	value := m.input.Value()
	words := strings.Fields(value)
	if len(words) == 0 {
		return m
	}
	word := words[len(words)-1]

	var matches []string
	for _, candidate := range append(slices.Clone(luaKeywords), m.globalNames()...) {
		if strings.HasPrefix(candidate, word) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
	case 1:
		m.input.SetValue(strings.TrimSuffix(value, word) + matches[0])
		m.input.CursorEnd()
	default:
		m = m.record("", strings.Join(matches, "  "), false)
	}
	return m
}

func (m replModel) globalNames() []string {
	var names []string
	_ = m.session.runtime.Do(func(L *lua.LState) error {
		L.G.Global.ForEach(func(k, _ lua.LValue) {
			if name, ok := k.(lua.LString); ok {
				names = append(names, string(name))
			}
		})
		return nil
	})
	slices.Sort(names)
	return names
}

// evaluate runs line as an expression first, so `btn.label` prints its
// value, and falls back to running it as a statement. The first result is
// kept in the global `_`.
func (m replModel) evaluate(line string) (string, bool) {
	var results []string
	err := m.session.runtime.Do(func(L *lua.LState) error {
		fn, err := L.LoadString("return " + line)
		if err != nil {
			if fn, err = L.LoadString(line); err != nil {
				return err
			}
		}
		base := L.GetTop()
		L.Push(fn)
		if err := L.PCall(0, lua.MultRet, nil); err != nil {
			return err
		}
		for i := base + 1; i <= L.GetTop(); i++ {
			results = append(results, formatValue(L, L.Get(i)))
		}
		if L.GetTop() > base {
			L.SetGlobal("_", L.Get(base+1))
		}
		L.SetTop(base)
		return nil
	})
	if err != nil {
		return err.Error(), true
	}
	if len(results) == 0 {
		return "nil", false
	}
	return strings.Join(results, "\t"), false
}

func formatValue(L *lua.LState, v lua.LValue) string {
	if s, ok := v.(lua.LString); ok {
		return fmt.Sprintf("%q", string(s))
	}
	return L.ToStringMeta(v).String()
}

func (m replModel) View() string {
	if m.quitting {
		return m.theme.muted.Render("bye") + "\n"
	}
	if !m.ready {
		return "starting..."
	}

	header := m.theme.title.Render("awesome") + " " +
		m.theme.muted.Render(fmt.Sprintf("%s %s, %d classes", lua.PackageName, lua.PackageVersion, m.session.runtime.Classes().Count()))

	var panels []string
	if m.showClasses {
		panels = append(panels, m.renderClasses())
	}
	footer := m.help.View(m.keys)

	used := lipgloss.Height(header) + lipgloss.Height(footer) + 2
	for _, p := range panels {
		used += lipgloss.Height(p)
	}
	body := m.renderTranscript(m.height - used)

	sections := []string{header, body}
	sections = append(sections, panels...)
	sections = append(sections, m.input.View(), footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderTranscript shows the newest entries that fit in lines rows.
func (m replModel) renderTranscript(lines int) string {
	var rows []string
	for i := len(m.transcript) - 1; i >= 0 && len(rows) < lines; i-- {
		entry := m.transcript[i]
		out := m.theme.result.Render("= " + entry.output)
		if entry.isErr {
			out = m.theme.err.Render("! " + entry.output)
		}
		rows = append(rows, out)
		if entry.input != "" && len(rows) < lines {
			rows = append(rows, m.theme.muted.Render("> ")+entry.input)
		}
	}
	slices.Reverse(rows)
	return strings.Join(rows, "\n")
}

func (m replModel) renderClasses() string {
	classes := m.session.runtime.Classes().Entries()
	if len(classes) == 0 {
		return m.theme.panel.Render(m.theme.muted.Render("no classes published"))
	}
	rows := []string{m.theme.prompt.Render("classes")}
	for _, class := range classes {
		state := class.State()
		rows = append(rows, fmt.Sprintf("%s  %s  instances=%d misses=%d/%d",
			m.theme.name.Render(class.Name()),
			propertySummary(class),
			state.Instances(),
			state.IndexMisses(),
			state.NewIndexMisses()))
	}
	return m.theme.panel.Render(strings.Join(rows, "\n"))
}

func replCommand(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	opts := bindCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	config, err := opts.resolve(fs)
	if err != nil {
		return err
	}
	model, err := newREPLModel(config)
	if err != nil {
		return err
	}
	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if rm, ok := final.(replModel); ok {
		rm.session.Close()
	} else {
		model.session.Close()
	}
	return err
}
