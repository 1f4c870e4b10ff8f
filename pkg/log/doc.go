// Package log is the structured logging abstraction used by every mgrkit
// package.
//
// Libraries never write to stderr on their own: managers, raisers and
// plugins default to [NoopLogger] and accept a [Logger] through an option.
// Two adapters ship with the package:
//
//	logger := log.NewZerologAdapter()                       // console output
//	logger := log.NewZerologAdapterWithLogger(zl)           // existing zerolog.Logger
//	logger := log.NewZapAdapter(zap.NewExample())           // existing *zap.Logger
//
// Any other library can be plugged in by implementing the four level methods.
package log
