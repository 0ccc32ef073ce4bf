// Package logx configures adhanbot's structured logging.
//
// Logger is a small value type on top of zerolog. Components derive their own
// logger with With(logx.String("comp", "...")) and log through field helpers.
// Service owns the sinks (console, JSON file, operator chat) and can swap them
// at runtime when the config is reloaded.
package logx
