package system

import (
	"errors"

	"github.com/Paranoid-AF/mcconsole/console"
	"github.com/Paranoid-AF/mcconsole/store"
)

var errNoStore = errors.New("state persistence is not configured")

func (s *System) persistCommands() []*console.Command {
	return []*console.Command{
		{
			Name:        "save",
			Description: "Save environment, aliases and history",
			Handler:     s.save,
		},
		{
			Name:        "load",
			Description: "Restore the last saved state",
			Handler:     s.load,
		},
		{
			Name:    "save-on-quit",
			Events:  []console.Kind{console.KindQuit},
			Hidden:  true,
			Handler: s.saveOnQuit,
		},
	}
}

// Snapshot captures every Datastore and the submitted history.
func (s *System) Snapshot() store.Snapshot {
	return store.Snapshot{
		Stores:  s.ctrl.ExportStores(),
		History: s.history.Entries(),
	}
}

// Restore loads the saved snapshot, if any, and reports whether one was
// applied.
func (s *System) Restore() (bool, error) {
	if s.store == nil {
		return false, errNoStore
	}
	snap, ok, err := s.store.Load()
	if err != nil || !ok {
		return false, err
	}
	s.ctrl.ImportStores(snap.Stores)
	s.history.Reset(snap.History)
	return true, nil
}

func (s *System) save(e *console.Event) error {
	e.Handled = true
	if s.store == nil {
		e.AddOutput("Error: " + errNoStore.Error())
		return nil
	}
	if err := s.store.Save(s.Snapshot()); err != nil {
		e.AddOutput("Error: " + err.Error())
		return nil
	}
	e.AddOutput("Data stores saved")
	return nil
}

func (s *System) load(e *console.Event) error {
	e.Handled = true
	ok, err := s.Restore()
	switch {
	case err != nil:
		e.AddOutput("Error: " + err.Error())
	case !ok:
		e.AddOutput("No saved state")
	default:
		e.AddOutput("Data stores restored")
	}
	return nil
}

// saveOnQuit persists state on the way out. Failures are logged and
// swallowed.
func (s *System) saveOnQuit(e *console.Event) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(s.Snapshot()); err != nil {
		s.log.With("err", err).Warn("state save on quit failed")
	}
	return nil
}
