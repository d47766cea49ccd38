package ui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucialwebstudio/amify/pkg/builder"
)

func noopRun(_ context.Context, _ builder.ProgressCallback) (*builder.Result, error) {
	return &builder.Result{Success: true}, nil
}

func TestNewBuildModel(t *testing.T) {
	m := NewBuildModel(context.Background(), "Building web", noopRun)

	assert.Equal(t, "Building web", m.title)
	assert.Empty(t, m.events)
	assert.False(t, m.done)
	assert.NotNil(t, m.Init())
}

func TestBuildModel_EventsBeforeDone(t *testing.T) {
	boom := errors.New("boom")
	m := NewBuildModel(context.Background(), "Building", func(_ context.Context, progress builder.ProgressCallback) (*builder.Result, error) {
		progress(builder.NewProgressEvent(builder.StageSource, "Resolving", 5))
		progress(builder.NewProgressEvent(builder.StageLaunching, "Launching", 20))
		return &builder.Result{BuildID: "b1"}, boom
	})

	assert.Nil(t, m.startBuild()())

	first, ok := m.waitForProgress()().(progressMsg)
	require.True(t, ok)
	assert.Equal(t, "Resolving", first.Message)

	second, ok := m.waitForProgress()().(progressMsg)
	require.True(t, ok)
	assert.Equal(t, "Launching", second.Message)

	done, ok := m.waitForProgress()().(buildDoneMsg)
	require.True(t, ok)
	assert.Equal(t, "b1", done.result.BuildID)
	assert.ErrorIs(t, done.err, boom)
}

func TestBuildModel_Update_Progress(t *testing.T) {
	m := NewBuildModel(context.Background(), "Building", noopRun)

	updated, cmd := m.Update(progressMsg(builder.NewProgressEvent(builder.StageLaunching, "Launching instance", 20).WithResource("i-0abc")))
	m = updated.(BuildModel)

	assert.NotNil(t, cmd)
	require.Len(t, m.events, 1)
	assert.Equal(t, 20, m.percent())

	updated, _ = m.Update(progressMsg(builder.NewProgressEvent(builder.StageCleanup, "Cleaning up", -1)))
	m = updated.(BuildModel)
	assert.Equal(t, 20, m.percent(), "indeterminate events keep the last percent")

	view := m.View()
	assert.Contains(t, view, "Building")
	assert.Contains(t, view, "Launching instance")
	assert.Contains(t, view, "i-0abc")
	assert.Contains(t, view, "20%")
	assert.Contains(t, view, "Press Ctrl+C to cancel")
}

func TestBuildModel_Update_Done(t *testing.T) {
	m := NewBuildModel(context.Background(), "Building", noopRun)

	updated, cmd := m.Update(buildDoneMsg{result: &builder.Result{BuildID: "b2", Success: true}})
	m = updated.(BuildModel)

	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.True(t, m.done)

	result, err := m.Result()
	require.NoError(t, err)
	assert.Equal(t, "b2", result.BuildID)
	assert.NotContains(t, m.View(), "Ctrl+C")
}

func TestBuildModel_Update_Interrupt(t *testing.T) {
	m := NewBuildModel(context.Background(), "Building", noopRun)
	ctx := m.ctx
	ctrlC := tea.KeyMsg{Type: tea.KeyCtrlC}

	updated, cmd := m.Update(ctrlC)
	m = updated.(BuildModel)
	assert.Nil(t, cmd, "first interrupt waits for cleanup")
	assert.True(t, m.cancelling)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Contains(t, m.View(), "Press Ctrl+C again")

	updated, cmd = m.Update(ctrlC)
	m = updated.(BuildModel)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	_, err := m.Result()
	assert.ErrorIs(t, err, ErrAborted)

	select {
	case <-m.abort:
	default:
		t.Fatal("abort channel should be closed")
	}
}

func TestBuildModel_Update_WindowSize(t *testing.T) {
	m := NewBuildModel(context.Background(), "Building", noopRun)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 200, Height: 50})
	m = updated.(BuildModel)

	assert.Equal(t, 200, m.width)
	assert.Equal(t, 60, m.progressBar.Width)
}
