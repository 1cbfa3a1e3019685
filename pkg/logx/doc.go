// Package logx is ixfnotify's structured logging, built on zerolog.
//
// Console output is human readable with a short caller; file output is JSON
// lines. Service.Apply swaps sinks and level on config reload without
// invalidating loggers already handed out.
package logx
