// Package scrape fetches one container's tracking record from one terminal
// source. It owns the per-source parsing, the typed failure taxonomy that the
// workflow runtime retries on, and the shared read-through cache.
//
// The package has no dependency on the workflow runtime: Scraper.Fetch is a
// plain context-aware call and the workflow layer wraps it as an activity.
package scrape
