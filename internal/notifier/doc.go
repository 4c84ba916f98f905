// Package notifier delivers outbound chat messages asynchronously.
//
// Notify enqueues and returns. A worker pool drains the queue through a shared
// rate limiter, retries with jittered exponential backoff when configured, and
// suppresses repeated deliveries that share a Notification.Key within the
// dedup window. Suppression windows can be persisted so they survive
// restarts. Outcomes are published on the event bus.
package notifier
