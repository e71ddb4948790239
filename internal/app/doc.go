// Package app assembles the runtime components described by a config.Config:
// scrape sources and cache, the reasoning client and tool catalog, the query
// store, the result publisher and the alert fan-out. Commands under cmd/pnctd
// use it so that a worker and an API server started from the same config see
// the same wiring.
package app
