// Package supervisor hosts managers inside a process supervisor.
//
// Hosted maps the cancellation-aware start and stop hooks a supervisor
// expects onto a manager's synchronous Start and Stop. Group starts a set
// of managers in order and stops them in reverse:
//
//	g := supervisor.NewGroup(supervisor.WithLogger(logger))
//	g.Add("worker", w)
//	g.Add("schedule", s)
//	err := g.Run(ctx) // returns after ctx is done and every manager stopped
package supervisor
