// Package streamstub provides an in-process fake of the video-ingestion
// backend for tests. It records every interaction and can be configured to
// fail the first N submissions with a chosen status and body.
package streamstub
