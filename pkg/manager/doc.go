// Package manager provides a uniform start/stop lifecycle for long-running
// components.
//
// A concrete manager embeds [*Base], implements [Lifecycle] (Start and Stop)
// and gets the rest of [Manager] for free: state storage, asynchronous
// start/stop with single-consumption [Task] handles, and two notification
// streams ([Base.EventStart], [Base.EventStop]) delivered according to a
// per-instance [dispatch.Mode].
//
// # Usage
//
//	m := NewPump() // embeds *manager.Base
//
//	m.EventStart().Subscribe(func(sender manager.Manager, e manager.EventArgs) {
//	    fmt.Println(sender.Name(), "start", e.Phase())
//	})
//
//	if _, err := m.Start(); err != nil {
//	    return err
//	}
//
//	t := m.BeginStop(nil, nil)
//	// ... do something else ...
//	state, err := m.EndStop(t)
//
// # Asynchronous operations
//
// BeginStart admits one asynchronous start at a time per instance: a second
// BeginStart blocks until the first task has been passed to EndStart. The
// same holds independently for stops. EndStart accepts only the outstanding
// task; a nil task yields [ErrNilTask] and any other task, including one
// already ended, yields [ErrNoOutstanding]. The admission slot is released
// whether Start succeeded, failed or panicked.
//
// # Notifications
//
// Concrete managers call [Base.OnStart] and [Base.OnStop] where their
// transition progresses. Listeners registered at that moment form the
// snapshot that is notified; registrations made during delivery apply to
// the next emission only.
package manager
