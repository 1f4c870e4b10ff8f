// Package state persists a snapshot of hosted manager states.
//
// The snapshot is rewritten atomically, so a reader never sees a partial
// file. A process reads the previous snapshot at startup to report how the
// last run ended.
//
//	repo := state.NewFileRepository("/var/lib/mgrkit")
//	prev, err := repo.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	if !prev.IsEmpty() {
//	    // previous run ended at prev.UpdatedAt
//	}
//	err = repo.Save(ctx, state.Capture(managers, time.Now()))
package state
