// Package api implements the HTTP handlers for the upload gateway: the
// resumable-upload protocol surface, the completion handoff to the ingestion
// backend, and remote asset cleanup.
package api
