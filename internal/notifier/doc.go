// Package notifier delivers match lists to chat recipients through an
// asynchronous pipeline: a bounded queue drained by a worker pool, with a
// shared send rate limit, retry with backoff and optional duplicate
// suppression that can survive restarts.
//
// Delivery goes through a transport.Adapter, so the pipeline does not
// depend on a specific messaging platform. A small in-memory history of
// sent texts is kept for the status endpoint.
package notifier
