// Package server implements the transport of the chat service: WebSocket
// hub and client pumps, HTTP routes and the read API, origin checks,
// per-connection rate limiting, and the process configuration.
//
// Frames read from a connection are decoded into {event, data} envelopes and
// handed to a Dispatcher; outbound frames come back through Hub.Deliver.
package server
