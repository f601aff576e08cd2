package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	"llmn/internal/cli"
	"llmn/internal/descriptor"
	"llmn/internal/registry"
	"llmn/internal/services"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rows = []cli.ServiceRow{
	{ID: "llmn/postgres", Name: "Postgres", Group: "databases", Mode: "auto", Enabled: true, Status: services.StatusRunning},
	{ID: "llmn/n8n", Name: "n8n", Group: "apps", Mode: "off", Status: services.StatusDisabled},
}

func staticSource(r []cli.ServiceRow, err error) Source {
	return func(context.Context) ([]cli.ServiceRow, error) { return r, err }
}

func TestModel_InitialViewShowsSpinner(t *testing.T) {
	m := NewModel(context.Background(), "llmn", staticSource(rows, nil), 0)

	assert.Equal(t, DefaultInterval, m.interval)
	assert.NotNil(t, m.Init())
	assert.Contains(t, m.View(), "Checking services")
}

func TestModel_RowsMsgRendersTable(t *testing.T) {
	m := NewModel(context.Background(), "llmn", staticSource(rows, nil), time.Second)

	updated, cmd := m.Update(rowsMsg{rows: rows, at: time.Now()})
	m = updated.(Model)

	assert.NotNil(t, cmd, "next poll is scheduled")
	assert.False(t, m.loading)
	assert.Equal(t, rows, m.Rows())
	view := m.View()
	assert.Contains(t, view, "Postgres")
	assert.Contains(t, view, "databases")
	assert.Contains(t, view, "q quit")
}

func TestModel_RefreshErrorKeepsRows(t *testing.T) {
	m := NewModel(context.Background(), "llmn", staticSource(rows, nil), time.Second)
	updated, _ := m.Update(rowsMsg{rows: rows, at: time.Now()})
	updated, _ = updated.Update(rowsMsg{err: errors.New("docker not running"), at: time.Now()})
	m = updated.(Model)

	assert.Equal(t, rows, m.Rows())
	assert.Contains(t, m.View(), "docker not running")
}

func TestModel_Keys(t *testing.T) {
	t.Run("q quits", func(t *testing.T) {
		m := NewModel(context.Background(), "llmn", staticSource(rows, nil), time.Second)
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		assert.Empty(t, updated.View())
	})

	t.Run("r is ignored while loading", func(t *testing.T) {
		m := NewModel(context.Background(), "llmn", staticSource(rows, nil), time.Second)
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
		assert.Nil(t, cmd)
	})

	t.Run("r fetches when idle", func(t *testing.T) {
		m := NewModel(context.Background(), "llmn", staticSource(rows, nil), time.Second)
		updated, _ := m.Update(rowsMsg{at: time.Now()})
		updated, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})

		require.NotNil(t, cmd)
		msg, ok := cmd().(rowsMsg)
		require.True(t, ok)
		assert.Equal(t, rows, msg.rows)
		assert.True(t, updated.(Model).loading)
	})
}

func TestRegistrySource_DisabledServicesSkipQuery(t *testing.T) {
	d, err := descriptor.Parse([]byte("service: n8n\ncompose_file: c.yaml\nservice_group: apps\n"), "")
	require.NoError(t, err)
	reg, err := registry.Build([]*descriptor.Descriptor{d}, registry.Options{})
	require.NoError(t, err)

	got, err := RegistrySource(reg)(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "llmn/n8n", got[0].ID)
	assert.Equal(t, services.StatusDisabled, got[0].Status)
}
