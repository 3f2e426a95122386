// Package models holds the shared domain types used across the sync,
// dedup, backup-reuse, maintenance, supervisor and store packages.
package models
