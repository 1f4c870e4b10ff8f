package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/mgrkit/pkg/manager"
)

type fake struct {
	*manager.Base
}

func newFake(name string) *fake {
	f := &fake{}
	f.Base = manager.NewBase(f, manager.WithName(name), manager.WithID(name+"-1"))
	return f
}

func (f *fake) Start() (manager.State, error) {
	f.SetState(manager.StateStarted)
	return f.State(), nil
}

func (f *fake) Stop() (manager.State, error) {
	f.SetState(manager.StateStopped)
	return f.State(), nil
}

func TestCapture(t *testing.T) {
	b, a := newFake("b"), newFake("a")
	defer b.Close()
	defer a.Close()
	b.SetState(manager.StateFaulted)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	snap := Capture([]manager.Manager{b, a}, at)
	if len(snap.Managers) != 2 || snap.Managers[0].Name != "a" {
		t.Fatalf("managers = %+v", snap.Managers)
	}
	if got := snap.Managers[1]; got.ID != "b-1" || got.State != "Faulted" || got.Dispatch != "sync" {
		t.Errorf("b = %+v", got)
	}
	if f := snap.Faulted(); len(f) != 1 || f[0] != "b" {
		t.Errorf("Faulted() = %v", f)
	}
	if snap.IsEmpty() {
		t.Error("IsEmpty() = true")
	}
}

func TestFileRepository_LoadMissing(t *testing.T) {
	repo := NewFileRepository(t.TempDir())
	snap, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.IsEmpty() {
		t.Errorf("snap = %+v", snap)
	}
}

func TestFileRepository_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	repo := NewFileRepository(dir)
	want := Snapshot{
		Managers:  []ManagerState{{Name: "pump", ID: "p", State: "Started", Dispatch: "async"}},
		UpdatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.Save(context.Background(), want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(repo.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Managers) != 1 || got.Managers[0] != want.Managers[0] || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFileRepository_Corrupt(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(dir)
	if err := os.WriteFile(repo.Path(), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFileRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewFileRepository(t.TempDir())
	if err := repo.Save(ctx, Snapshot{}); err == nil {
		t.Error("Save with canceled ctx succeeded")
	}
}
