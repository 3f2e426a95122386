// Package dedup implements the two-pass deduplication engine (C5): a cheap
// media-hash pass over local files, then an AI-summary text-hash pass,
// both registering into a first-writer-wins SQL registry scoped per group
// (spec.md §4.5).
package dedup
