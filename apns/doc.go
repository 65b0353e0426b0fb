// Package apns implements a client for the legacy binary push notification
// gateway protocol: one persistent TLS stream per client, compact binary
// frames outbound, asynchronous 6-byte error reports inbound.
//
// Delivery is at-least-once with bounded duplication. Notifications written
// to the wire are retained in a bounded transmission cache; when the gateway
// reports an error for one of them, older cached entries are presumed
// delivered, the faulting one is handed to the reject callback and the newer
// ones are requeued for a fresh connection. An undersized cache degrades to
// resending the whole retained window, never to silent loss.
package apns
