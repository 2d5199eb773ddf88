// Package stream wraps the remote video-ingestion backend. It submits
// assembled upload files, retries transient failures with backoff, classifies
// backend errors into a small taxonomy, and derives playback locator URLs
// for ingested assets.
package stream
