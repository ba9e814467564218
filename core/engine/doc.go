// Package engine is the request entry point of the application server.
//
// Process routes a transport request by host and path to one registered
// application, rejects it when the application is not connected, acquires
// an idle request handler from the application's pool, translates the
// request into a valve.Request and blocks until the handler dispatches the
// response, which is then copied into the TransportResponse. The handler is
// always released.
//
// Routing patterns are compiled once from the registry: for each
// application, in registration order, its virtual hosts and then its context
// path. The first matching pattern wins.
//
// Failures that prevent a handler from running are returned as Error values
// carrying an HTTP status:
//
//	ErrNoApplication     400  no pattern matched
//	ErrMalformedRequest  400  the body could not be read or decoded
//	ErrNotReady          503  the application is not connected
//	ErrHandlerExhausted  503  no idle handler within the acquire timeout
//	ErrInternal          500  unexpected failure
//
// Errors raised by application valves never surface here; the handler turns
// them into a 500 response.
//
// Two variants exist. NewDynamic reuses handlers until their randomized TTL
// or request budget ends. NewStatic retires each handler after one request.
package engine
