// Package logx is remindbot's structured logging layer on top of zerolog.
//
// A Logger obtained from a Service follows Service.Apply, so level and sink
// changes take effect without re-wiring components. Besides console and file
// output the Service can mirror records into a chat (rate limited) and into a
// persistent store (bounded queue, dropped on overflow).
package logx
