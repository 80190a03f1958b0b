// Package cowrieprocessor holds the shared data model for the honeypot
// ingestion and enrichment engine.
//
// The types in this package are the lingua franca between the loaders
// (package ingest), the enrichment cascade (package enrich), and the
// persistence layer (package datastore). They are plain values with JSON
// tags; persistence concerns live behind the datastore interfaces.
package cowrieprocessor
