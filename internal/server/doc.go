// Package server assembles the HTTP surface of the upload gateway: routing,
// bearer-token authentication, rate limiting, CORS for browser uploaders,
// security headers, and request-scoped logging.
package server
