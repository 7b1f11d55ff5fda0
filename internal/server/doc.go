// Package server hosts the Fiber HTTP service and the glue between the
// prefix dispatcher and resolver chunk streams. It bootstraps Fiber with
// recover and request-ID middlewares, builds the resolver set from config,
// and adapts each fetch into a plain HTTP response: headers from the first
// chunk, body from the progress chunks, 502 when the upstream chain fails
// before any byte is written. Keep exports narrow and accept explicit
// dependencies so the root main package stays a thin shell.
package server
