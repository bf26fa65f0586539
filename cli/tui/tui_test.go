package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/packwright/packwright/types"
)

var _ tea.Model = SyncModel{}

func TestSyncModel_CountsEvents(t *testing.T) {
	m := NewSyncModel("demo", nil)

	events := []types.Event{
		{Type: types.EventProgress, Done: 1, Total: 4, Path: "mods/a.jar"},
		{Type: types.EventFileApplied, Path: "mods/a.jar"},
		{Type: types.EventFileSkipped, Path: "config/x.toml"},
		{Type: types.EventFilePending, Path: "mods/b.jar"},
		{Type: types.EventFileFailed, Path: "mods/c.jar"},
	}
	model := tea.Model(m)
	for _, ev := range events {
		model, _ = model.Update(eventMsg(ev))
	}

	got := model.(SyncModel)
	if got.applied != 1 || got.skipped != 1 || got.pending != 1 || got.failed != 1 {
		t.Errorf("counters = %+v", got)
	}
	if got.done != 1 || got.total != 4 {
		t.Errorf("progress = %d/%d", got.done, got.total)
	}
}

func TestSyncModel_CompleteQuits(t *testing.T) {
	m := NewSyncModel("demo", nil)
	model, cmd := m.Update(eventMsg(types.Event{Type: types.EventSyncComplete, Message: "done"}))

	got := model.(SyncModel)
	if !got.finished {
		t.Error("model should be finished after sync_complete")
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}

	view := got.View()
	if !strings.Contains(view, "done") {
		t.Errorf("final view missing message: %q", view)
	}
}

func TestSyncModel_ClosedStreamQuits(t *testing.T) {
	m := NewSyncModel("demo", nil)
	model, cmd := m.Update(streamClosedMsg{})
	if !model.(SyncModel).finished {
		t.Error("closed stream should finish the model")
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}
