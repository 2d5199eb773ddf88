// Package models defines the domain types shared across the API, upload,
// and ingestion layers.
package models

import (
	"strings"
	"time"
)

// Identity describes the authenticated caller resolved from a bearer token.
type Identity struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
}

// HasRole reports whether the identity carries the named role.
func (i Identity) HasRole(role string) bool {
	for _, existing := range i.Roles {
		if strings.EqualFold(existing, role) {
			return true
		}
	}
	return false
}

// UploadSession tracks one in-flight resumable upload. The session owns its
// byte sink exclusively; ReceivedOffset equals the sink's length at all times.
type UploadSession struct {
	ID             string            `json:"id"`
	Owner          string            `json:"owner"`
	DeclaredLength int64             `json:"declaredLength"`
	ReceivedOffset int64             `json:"receivedOffset"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Filename returns the client-declared filename from the session metadata,
// falling back to a name derived from the session id.
func (s UploadSession) Filename() string {
	if name := strings.TrimSpace(s.Metadata["filename"]); name != "" {
		return name
	}
	return "video_" + s.ID + ".mp4"
}

// Complete reports whether every declared byte has been received.
func (s UploadSession) Complete() bool {
	return s.ReceivedOffset == s.DeclaredLength
}
