// Package sse implements per-connection Server-Sent Events sessions.
//
// A Session is constructed once per accepted connection and owns everything
// that connection streams: the SSE preamble, the event buffer, the
// subscription set, the acknowledgement table, the heartbeat timer and the
// rate counters. A Server keeps the sessions of one process and hands out an
// HTTP handler that opens a session per request.
package sse
