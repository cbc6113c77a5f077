// Package tui hosts the wall in a terminal: a static profile panel, the
// composer driving a wall.Submitter and the live feed.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/internal/wall"
)

// Profile is the static profile panel.
type Profile struct {
	Author   string
	Networks string
	Location string
}

type focus int

const (
	focusText focus = iota
	focusPhoto
)

type feedUpdatedMsg struct{}

type submitDoneMsg struct {
	post *wall.Post
	err  error
}

type loadDoneMsg struct{ err error }

// Model 是 bubbletea 的根模型
type Model struct {
	ctx     context.Context
	feed    *wall.Feed
	sub     *wall.Submitter
	profile Profile
	loc     *time.Location
	log     *zap.Logger

	composer textarea.Model
	photo    textinput.Model
	spinner  spinner.Model
	help     help.Model
	focus    focus

	status    string
	statusErr bool
	width     int
	height    int
}

type Options struct {
	Profile  Profile
	Location *time.Location
	Logger   *zap.Logger
	MaxChars int
}

func New(ctx context.Context, feed *wall.Feed, sub *wall.Submitter, opts Options) Model {
	if opts.MaxChars <= 0 {
		opts.MaxChars = wall.MaxContentLength
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ta := textarea.New()
	ta.Placeholder = "What's on your mind?"
	ta.CharLimit = opts.MaxChars
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.Focus()

	ti := textinput.New()
	ti.Placeholder = "path/to/photo.jpg (optional)"
	ti.Prompt = "Photo: "

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:      ctx,
		feed:     feed,
		sub:      sub,
		profile:  opts.Profile,
		loc:      opts.Location,
		log:      opts.Logger,
		composer: ta,
		photo:    ti,
		spinner:  sp,
		help:     help.New(),
	}
}

// Run 启动终端界面，阻塞到退出
func Run(ctx context.Context, feed *wall.Feed, sub *wall.Submitter, opts Options) error {
	p := tea.NewProgram(New(ctx, feed, sub, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitForUpdate(m.feed))
}

func waitForUpdate(feed *wall.Feed) tea.Cmd {
	return func() tea.Msg {
		<-feed.Updates()
		return feedUpdatedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.composer.SetWidth(max(20, m.mainWidth()-4))
		return m, nil

	case feedUpdatedMsg:
		return m, waitForUpdate(m.feed)

	case loadDoneMsg:
		if msg.err != nil {
			m.log.Warn("reload failed", zap.Error(msg.err))
		}
		return m, nil

	case submitDoneMsg:
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
			return m, nil
		}
		m.composer.Reset()
		m.photo.Reset()
		m.setStatus("Posted.", false)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.sub.Cancel()
			return m, tea.Quit
		case key.Matches(msg, keys.Submit):
			return m, m.submit()
		case key.Matches(msg, keys.Switch):
			m.toggleFocus()
			return m, nil
		case key.Matches(msg, keys.Retry):
			return m, m.reload()
		case key.Matches(msg, keys.ClearFile):
			m.photo.Reset()
			m.sub.ClearFile()
			return m, nil
		case key.Matches(msg, keys.Dismiss):
			m.feed.DismissFailed()
			return m, nil
		case key.Matches(msg, keys.Cancel):
			if m.sub.Cancel() {
				m.setStatus("Canceling...", false)
			}
			return m, nil
		}
		if m.sub.Pending() {
			// 提交中输入框只读
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.focus == focusText {
		m.composer, cmd = m.composer.Update(msg)
		m.sub.SetContent(m.composer.Value())
	} else {
		m.photo, cmd = m.photo.Update(msg)
	}
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) toggleFocus() {
	if m.focus == focusText {
		m.focus = focusPhoto
		m.composer.Blur()
		m.photo.Focus()
		return
	}
	m.focus = focusText
	m.photo.Blur()
	m.composer.Focus()
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

func (m *Model) submit() tea.Cmd {
	m.sub.SetContent(m.composer.Value())
	if !m.sub.CanSubmit() {
		return nil
	}

	m.sub.ClearFile()
	if path := strings.TrimSpace(m.photo.Value()); path != "" {
		att, err := wall.FileAttachment(path)
		if err != nil {
			m.setStatus("Cannot read photo: "+err.Error(), true)
			return nil
		}
		m.sub.SetFile(att)
	}
	m.setStatus("", false)

	ctx, sub := m.ctx, m.sub
	return func() tea.Msg {
		post, err := sub.SubmitDraft(ctx)
		return submitDoneMsg{post: post, err: err}
	}
}

func (m Model) reload() tea.Cmd {
	ctx, feed := m.ctx, m.feed
	return func() tea.Msg {
		return loadDoneMsg{err: feed.Load(ctx)}
	}
}

func (m Model) mainWidth() int {
	if m.width == 0 {
		return 80
	}
	return max(40, m.width-profileWidth-4)
}

const profileWidth = 30

func (m Model) View() string {
	main := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Wall"),
		m.composerView(),
		"",
		m.feedView(),
		m.help.View(keys),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Width(profileWidth).Render(m.profileView()),
		lipgloss.NewStyle().PaddingLeft(2).Width(m.mainWidth()).Render(main),
	)
}

func (m Model) profileView() string {
	var sb strings.Builder
	sb.WriteString(headingStyle.Render(m.profile.Author) + "\n\n")
	sb.WriteString(authorStyle.Render("Information") + "\n\n")
	sb.WriteString(authorStyle.Render("Networks") + "\n")
	sb.WriteString(mutedStyle.Render(m.profile.Networks) + "\n\n")
	sb.WriteString(authorStyle.Render("Location") + "\n")
	sb.WriteString(mutedStyle.Render(m.profile.Location))
	return sb.String()
}

func (m Model) composerView() string {
	var sb strings.Builder
	if m.status != "" {
		style := okStyle
		if m.statusErr {
			style = errorStyle
		}
		sb.WriteString(style.Render(m.status) + "\n")
	}
	sb.WriteString(m.composer.View() + "\n")
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("%d characters remaining", m.sub.Draft().Remaining)) + "\n")

	prompt := m.photo.View()
	if m.focus == focusPhoto {
		prompt = focusedPrompt.Render("> ") + prompt
	}
	sb.WriteString(prompt + "\n")
	sb.WriteString(mutedStyle.Render("JPG, PNG, GIF up to 5MB") + "\n")

	switch {
	case m.sub.Pending():
		sb.WriteString(m.spinner.View() + " Posting...")
	case m.sub.CanSubmit():
		sb.WriteString(okStyle.Render("[ctrl+s] Share"))
	default:
		sb.WriteString(mutedStyle.Render("[ctrl+s] Share"))
	}
	return sb.String()
}

func (m Model) feedView() string {
	st := m.feed.Snapshot()
	switch st.Display() {
	case wall.DisplayLoading:
		return mutedStyle.Render(wall.MsgLoading) + "\n"
	case wall.DisplayError:
		return errorStyle.Render(wall.MsgLoadFailed) + "\n" + mutedStyle.Render("[ctrl+r] Retry") + "\n"
	case wall.DisplayEmpty:
		return mutedStyle.Render(wall.MsgEmptyFeed) + "\n"
	}

	now := time.Now()
	var sb strings.Builder
	for _, p := range st.Posts {
		sb.WriteString(renderPost(wall.RenderAt(p, m.loc, now)))
	}
	return sb.String()
}

func renderPost(v wall.PostView) string {
	var sb strings.Builder
	if v.Pending {
		sb.WriteString(mutedStyle.Render("Posting...") + "\n")
	}
	sb.WriteString(authorStyle.Render(v.Author) + " " + mutedStyle.Render(v.Timestamp+" · "+v.Relative) + "\n")
	sb.WriteString(v.Content)
	if v.PhotoURL != "" {
		sb.WriteString("\n" + photoStyle.Render("[photo] "+v.PhotoURL))
	}
	if v.ErrorNote != "" {
		sb.WriteString("\n" + errorStyle.Render(v.ErrorNote))
	}
	out := postStyle.Render(sb.String())
	if v.Pending {
		out = pendingStyle.Render(out)
	}
	return out + "\n"
}
