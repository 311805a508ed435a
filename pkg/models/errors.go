package models

import "errors"

// Sentinel errors for metadata store operations. Handlers translate these
// into the API error kinds; internal callers test them with errors.Is.
var (
	// User errors
	ErrUserNotFound = errors.New("user not found")

	// Folder errors
	ErrFolderNotFound  = errors.New("folder not found")
	ErrDuplicateFolder = errors.New("folder already exists")

	// File errors
	ErrFileNotFound  = errors.New("file not found")
	ErrDuplicateFile = errors.New("file already exists")

	// Task errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrDuplicateTask     = errors.New("task already exists")
	ErrTaskNotQueued     = errors.New("task is not in queued state")
	ErrTaskTerminal      = errors.New("task is already in a terminal state")
	ErrInvalidTransition = errors.New("illegal task status transition")

	// Result errors
	ErrResultNotFound = errors.New("result not found")

	// Version errors
	ErrVersionNotFound = errors.New("document version not found")

	// Session errors
	ErrSessionNotFound = errors.New("edit session not found")
	ErrSessionEnded    = errors.New("edit session already ended")

	// Permission errors
	ErrPermissionNotFound = errors.New("edit permission not found")
	ErrPermissionRevoked  = errors.New("edit permission already revoked")
	ErrForbidden          = errors.New("caller is not allowed to access this task")
)
