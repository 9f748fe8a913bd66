// Package logx configures relaybot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON, one event per line
//   - an optional Telegram sink forwards WARN+ events to an ops chat, rate limited
package logx
