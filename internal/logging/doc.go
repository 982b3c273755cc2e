// Package logging provides structured logging for memtopo built on Zap.
//
// Components take a *zap.Logger and fall back to a no-op logger when given
// nil, so library consumers are never forced to configure logging. The
// binary builds one logger from Config and hands named children to each
// component.
package logging
