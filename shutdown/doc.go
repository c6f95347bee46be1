// Package shutdown releases process resources in ordered phases when a
// generation finishes or the process is interrupted.
//
// The CLI registers one cleanup step per resource:
//
//	coord := shutdown.New(shutdown.WithLogger(logger))
//	coord.Register("metrics-server", shutdown.PhaseServers, srv.Shutdown)
//	coord.Register("section-index", shutdown.PhaseStorage, shutdown.Closer(index.Close))
//	coord.Register("logger", shutdown.PhaseLogs, shutdown.Closer(logger.Sync))
//	defer coord.Close()
//
//	ctx, stop := shutdown.NotifyContext(context.Background())
//	defer stop()
//
// Steps in a lower phase finish before the next phase starts. Steps sharing
// a phase run concurrently. A failed step never stops later ones.
package shutdown
