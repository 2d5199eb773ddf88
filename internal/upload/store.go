// Package upload implements the resumable-upload session store. Each session
// owns an append-only disk sink and a metadata record tracking how many bytes
// have been durably received.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"vodgate/internal/models"
)

var (
	// ErrNotFound indicates the session does not exist or has expired.
	ErrNotFound = errors.New("upload session not found")
	// ErrInvalidLength indicates the declared length is not a positive integer.
	ErrInvalidLength = errors.New("upload length must be a positive integer")
	// ErrTooLarge indicates the declared length exceeds the configured maximum.
	ErrTooLarge = errors.New("upload length exceeds maximum size")
	// ErrEmptyChunk indicates an append carried no bytes.
	ErrEmptyChunk = errors.New("chunk body is empty")
	// ErrLengthExceeded indicates an append would push the sink past the
	// declared upload length.
	ErrLengthExceeded = errors.New("chunk exceeds declared upload length")
)

// OffsetConflictError reports an append whose expected offset did not match
// the session's current offset. Current carries the true offset so the client
// can resynchronize.
type OffsetConflictError struct {
	Expected int64
	Current  int64
}

func (e *OffsetConflictError) Error() string {
	return fmt.Sprintf("offset mismatch: expected %d, current %d", e.Expected, e.Current)
}

// IsOffsetConflict extracts an OffsetConflictError from err when present.
func IsOffsetConflict(err error) (*OffsetConflictError, bool) {
	var conflict *OffsetConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// CreateParams captures the attributes supplied when opening a session.
type CreateParams struct {
	Owner          string
	DeclaredLength int64
	Metadata       map[string]string
}

// Store is the persistence contract for upload sessions. Append is atomic
// per session: the offset comparison and the sink write happen under the
// session's lock, so concurrent appends for one session are strictly
// serialized while distinct sessions proceed in parallel.
type Store interface {
	Create(params CreateParams) (models.UploadSession, error)
	Get(id string) (models.UploadSession, bool)
	Append(id string, expectedOffset int64, chunk io.Reader) (int64, error)
	Open(id string) (*os.File, models.UploadSession, error)
	Delete(id string) error
	SweepExpired(now time.Time) (int, error)
}
