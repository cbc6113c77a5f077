package tui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/wall/internal/wall"
)

type memStore struct {
	mu      sync.Mutex
	rows    []wall.Post
	listErr error
}

func (s *memStore) ListRecent(context.Context, int) ([]wall.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]wall.Post(nil), s.rows...), nil
}

func (s *memStore) Insert(_ context.Context, p wall.NewPost) (*wall.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := wall.Post{ID: "row-1", Author: p.Author, Content: p.Content, CreatedAt: time.Now(), ClientToken: p.ClientToken}
	s.rows = append([]wall.Post{row}, s.rows...)
	return &row, nil
}

func newModel(t *testing.T, store *memStore) (Model, *wall.Feed) {
	t.Helper()
	feed := wall.NewFeed(store, nil)
	sub := wall.NewSubmitter(store, nil, feed)
	m := New(context.Background(), feed, sub, Options{
		Profile: Profile{Author: "Jazzer Giancarlo M. Ancheta", Networks: "Mariano MMSU Alum", Location: "Laoag City, Ilocos Norte"},
	})
	return m, feed
}

func typeText(m Model, s string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(Model)
}

func TestView_FeedStates(t *testing.T) {
	store := &memStore{}
	m, feed := newModel(t, store)

	require.NoError(t, feed.Load(context.Background()))
	assert.Contains(t, m.View(), wall.MsgEmptyFeed)
	assert.Contains(t, m.View(), "Laoag City, Ilocos Norte")
	assert.Contains(t, m.View(), "280 characters remaining")

	store.listErr = errors.New("down")
	_ = feed.Load(context.Background())
	assert.Contains(t, m.View(), wall.MsgLoadFailed)
}

func TestUpdate_SubmitHello(t *testing.T) {
	store := &memStore{}
	m, feed := newModel(t, store)
	require.NoError(t, feed.Load(context.Background()))

	m = typeText(m, "Hello")
	assert.Equal(t, "Hello", m.composer.Value())
	assert.Contains(t, m.View(), "275 characters remaining")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	m = next.(Model)
	require.NotNil(t, cmd)

	msg := cmd()
	done, ok := msg.(submitDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)

	next, _ = m.Update(done)
	m = next.(Model)
	assert.Empty(t, m.composer.Value())
	assert.Contains(t, m.View(), "Hello")
	assert.Contains(t, m.View(), "Posted.")

	posts := feed.Snapshot().Posts
	require.Len(t, posts, 1)
	assert.Equal(t, "row-1", posts[0].ID)
}

func TestUpdate_SubmitIgnoredWhenBlank(t *testing.T) {
	m, _ := newModel(t, &memStore{})
	m = typeText(m, "   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, cmd)
}

func TestUpdate_BadPhotoPath(t *testing.T) {
	m, feed := newModel(t, &memStore{})
	m = typeText(m, "with photo")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	assert.Equal(t, focusPhoto, m.focus)
	m = typeText(m, "/definitely/not/here.png")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.True(t, m.statusErr)
	assert.Contains(t, m.View(), "Cannot read photo")
	assert.Empty(t, feed.Snapshot().Posts)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	m = next.(Model)
	assert.Empty(t, m.photo.Value())
}

func TestUpdate_Quit(t *testing.T) {
	m, _ := newModel(t, &memStore{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
