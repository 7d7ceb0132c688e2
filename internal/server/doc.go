// Package server hosts the Fiber HTTP service and the request middleware
// chain. It builds the app (panic recovery, request IDs, the catch-all
// read-through route and the favicon fast path), owns the shared upstream
// http.Client, and provides the hop-by-hop header filter used when origin
// responses are relayed. Diagnostics live in the routes subpackage and are
// registered after NewApp, so keep exports narrow and accept explicit
// dependencies.
package server
