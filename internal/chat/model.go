// Package chat is the terminal chat UI. It talks to `alfred serve` only
// through the control API: input stays disabled until the backend is Ready,
// notifications are rendered in delivery order, and a failed query never
// produces an assistant turn.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/alfred/internal/prefs"
	"github.com/loykin/alfred/internal/secure"
	"github.com/loykin/alfred/internal/supervisor"
	"github.com/loykin/alfred/pkg/client"
)

// API is the part of the control API client the chat needs. *client.Client implements it.
type API interface {
	Check(ctx context.Context) (client.Status, error)
	Restart(ctx context.Context) (client.Status, error)
	Stop(ctx context.Context) (client.Status, error)
	Backend(ctx context.Context, r client.BackendRequest) (client.BackendResponse, error)
	StreamEvents(ctx context.Context, handle func(client.Event) error) error
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleError
	roleNotice
	roleInfo
)

type turn struct {
	role    role
	kind    string
	text    string
	sources []string
}

// Options configure the chat model.
type Options struct {
	Context   context.Context
	API       API
	Prefs     prefs.Prefs
	PrefsPath string
	// Events delivers stream messages; nil disables the event stream.
	Events <-chan tea.Msg
}

type Model struct {
	ctx       context.Context
	api       API
	prefs     prefs.Prefs
	prefsPath string
	decryptor *secure.Decryptor
	events    <-chan tea.Msg

	input textinput.Model
	vp    viewport.Model
	spin  spinner.Model

	transcript []turn
	state      supervisor.State
	statusLine string
	pending    bool
	busy       string
	width      int
	height     int
}

func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	in := textinput.New()
	in.Placeholder = "Ask Alfred something, or /help"
	in.Prompt = "You> "
	in.CharLimit = 0
	in.Width = 60
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	m := Model{
		ctx:        ctx,
		api:        opts.API,
		prefs:      opts.Prefs,
		prefsPath:  opts.PrefsPath,
		events:     opts.Events,
		input:      in,
		vp:         viewport.New(80, 20),
		spin:       s,
		state:      supervisor.Idle,
		statusLine: "Connecting to Alfred...",
	}
	m.decryptor = secure.NewDecryptor(m.fetchKey)
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spin.Tick, m.check()}
	if m.events != nil {
		cmds = append(cmds, listen(m.events))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-len(m.input.Prompt)-2, 10)
		m.vp.Width = msg.Width
		m.vp.Height = max(msg.Height-headerLines-footerLines, 3)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		case "enter":
			return m.submit()
		}

	case eventMsg:
		m.applyEvent(msg.ev)
		return m, listen(m.events)

	case streamClosedMsg:
		if msg.err != nil {
			m.addTurn(turn{role: roleError, text: "Event stream closed: " + msg.err.Error()})
		}
		m.events = nil
		return m, nil

	case statusMsg:
		m.busy = ""
		m.applySnapshot(msg.st.Snapshot)
		if msg.err != nil {
			m.addTurn(turn{role: roleError, text: msg.action + " failed: " + errorText(msg.err)})
		}
		return m, nil

	case answerMsg:
		m.pending = false
		m.addTurn(turn{role: roleAssistant, text: msg.answer, sources: msg.sources})
		if msg.conversationID != "" && msg.conversationID != m.prefs.ConversationID {
			m.prefs.ConversationID = msg.conversationID
			m.savePrefs()
		}
		return m, nil

	case queryErrMsg:
		m.pending = false
		m.addTurn(turn{role: roleError, text: errorText(msg.err)})
		return m, nil

	case infoMsg:
		m.busy = ""
		if msg.err != nil {
			m.addTurn(turn{role: roleError, text: errorText(msg.err)})
		} else {
			m.addTurn(turn{role: roleInfo, text: msg.text})
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.spin, cmd = m.spin.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// InputEnabled reports whether a question can be sent right now.
func (m Model) InputEnabled() bool {
	return m.state.InputEnabled() && !m.pending && m.busy == ""
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.SetValue("")
		return m.command(text)
	}
	if !m.InputEnabled() {
		return m, nil
	}
	m.input.SetValue("")
	m.pending = true
	m.addTurn(turn{role: roleUser, text: text})
	return m, m.query(text)
}

func (m *Model) command(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "/quit", "/exit":
		return *m, tea.Quit
	case "/help":
		m.addTurn(turn{role: roleInfo, text: helpText})
		return *m, nil
	case "/restart":
		m.busy = "Restarting Alfred backend"
		return *m, m.restart()
	case "/stop":
		m.busy = "Stopping Alfred backend"
		return *m, m.stop()
	case "/check":
		m.busy = "Checking Alfred backend"
		return *m, m.check()
	case "/new":
		m.transcript = nil
		m.prefs.ConversationID = ""
		m.savePrefs()
		m.addTurn(turn{role: roleInfo, text: "Started a new conversation"})
		return *m, nil
	case "/history":
		m.prefs.UseHistory = !m.prefs.UseHistory
		m.savePrefs()
		m.addTurn(turn{role: roleInfo, text: "Use history: " + onOff(m.prefs.UseHistory)})
		return *m, nil
	case "/search":
		m.prefs.SearchDocuments = !m.prefs.SearchDocuments
		m.savePrefs()
		m.addTurn(turn{role: roleInfo, text: "Search documents: " + onOff(m.prefs.SearchDocuments)})
		return *m, nil
	case "/model":
		if !m.state.InputEnabled() {
			m.addTurn(turn{role: roleError, text: "Alfred backend is not ready"})
			return *m, nil
		}
		if len(args) == 0 {
			return *m, m.model("")
		}
		return *m, m.model(args[0])
	case "/stats":
		if !m.state.InputEnabled() {
			m.addTurn(turn{role: roleError, text: "Alfred backend is not ready"})
			return *m, nil
		}
		return *m, m.stats()
	}
	m.addTurn(turn{role: roleError, text: fmt.Sprintf("Unknown command %s. Type /help for the list.", name)})
	return *m, nil
}

func (m *Model) applyEvent(ev client.Event) {
	switch {
	case ev.Status != nil:
		if st, err := supervisor.ParseState(ev.Status.State); err == nil {
			m.state = st
		}
		m.statusLine = ev.Status.Message
	case ev.Notification != nil:
		m.addTurn(turn{role: roleNotice, kind: string(ev.Notification.Kind), text: ev.Notification.Message})
	}
}

func (m *Model) applySnapshot(s client.Snapshot) {
	m.state = s.State
	if s.Message != "" {
		m.statusLine = s.Message
	}
}

func (m *Model) addTurn(t turn) {
	m.transcript = append(m.transcript, t)
	m.refresh()
}

func (m *Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	if err := prefs.Save(m.prefsPath, m.prefs); err != nil {
		m.transcript = append(m.transcript, turn{role: roleError, text: "Could not save preferences: " + err.Error()})
	}
}

func (m *Model) refresh() {
	m.vp.SetContent(m.renderTranscript())
	m.vp.GotoBottom()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

const helpText = `Commands:
  /restart          restart the Alfred backend
  /stop             stop the Alfred backend
  /check            start the backend if it is not running
  /new              start a new conversation
  /model [name]     show or switch the LLM model
  /stats            show document index statistics
  /history          toggle using chat history as context
  /search           toggle searching your documents
  /quit             leave`
