// Package ingestion provides pipeline orchestration for loading messages
// into the corpus.
//
// The Pipeline type manages the ingestion workflow, including:
//   - Validating and storing messages (duplicates are skipped, not errors)
//   - Generating embeddings concurrently using a worker pool
//   - Backfilling embeddings for messages whose earlier attempts failed
//
// Embedding failures never fail an ingest: affected messages stay queued
// without a vector and remain reachable through lexical search until a
// later Backfill succeeds.
package ingestion
