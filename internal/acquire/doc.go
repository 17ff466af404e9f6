// Package acquire drives listing retrieval and per-unit acquisition for a job.
//
// Listing pages are fetched concurrently and merged into one stable,
// re-indexed unit list. Units are then resolved by a fixed pool of workers
// that consult the shared unit cache before calling the fetcher and report
// progress once per unit.
package acquire
