// Package logx is syncd's structured logging on top of zerolog.
//
// Components hold a Logger with fixed fields (comp=..., job=...). Loggers
// derived from a Service follow its Apply calls, so a config reload changes
// level and sinks for everyone. The console sink is human readable; the file
// sink is one JSON object per line.
package logx
