package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all components so task, session and
// object identifiers can be correlated end to end in log aggregation.
const (
	// Identity
	KeyUserID   = "user_id"
	KeyTaskID   = "task_id"
	KeyFileID   = "file_id"
	KeyFolderID = "folder_id"
	KeyWorkerID = "worker_id"

	// Pipeline
	KeyStatus       = "status"
	KeyAttempt      = "attempt"
	KeyQueueDepth   = "queue_depth"
	KeyTopic        = "topic"
	KeyEventID      = "event_id"
	KeyEventType    = "event_type"
	KeyProcessingMs = "processing_ms"

	// Object store
	KeyBucket     = "bucket"
	KeyObjectKey  = "object_key"
	KeyRegion     = "region"
	KeySize       = "size"
	KeyETag       = "etag"
	KeyMaxRetries = "max_retries"

	// Versioning and sessions
	KeySessionID     = "session_id"
	KeyVersionID     = "version_id"
	KeyVersionNumber = "version_number"
	KeyChecksum      = "checksum"
	KeyViewType      = "view_type"
	KeyAction        = "action"

	// HTTP / gateway
	KeyRequestID  = "request_id"
	KeyClientIP   = "client_ip"
	KeyConnCount  = "conn_count"
	KeyHTTPStatus = "http_status"

	// Generic
	KeyError      = "error"
	KeyDurationMs = "duration_ms"
	KeyFilename   = "filename"
	KeyMimeType   = "mime_type"
)

// Field constructors for type safety on the hot paths. Components are free
// to pass ad-hoc key/value pairs for one-off fields.

// UserID returns a slog.Attr for a user identifier
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// TaskID returns a slog.Attr for a task identifier
func TaskID(id string) slog.Attr {
	return slog.String(KeyTaskID, id)
}

// FileID returns a slog.Attr for a file identifier
func FileID(id string) slog.Attr {
	return slog.String(KeyFileID, id)
}

// WorkerID returns a slog.Attr for a worker identifier
func WorkerID(id string) slog.Attr {
	return slog.String(KeyWorkerID, id)
}

// Status returns a slog.Attr for a task status
func Status(s string) slog.Attr {
	return slog.String(KeyStatus, s)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// ObjectKey returns a slog.Attr for an object store key
func ObjectKey(key string) slog.Attr {
	return slog.String(KeyObjectKey, key)
}

// SessionID returns a slog.Attr for an edit session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// VersionNumber returns a slog.Attr for a document version number
func VersionNumber(n int) slog.Attr {
	return slog.Int(KeyVersionNumber, n)
}

// Err returns a slog.Attr for an error, tolerating nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// Duration returns a slog.Attr with the elapsed time since start in
// fractional milliseconds.
func Duration(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(time.Since(start).Microseconds())/1000.0)
}
