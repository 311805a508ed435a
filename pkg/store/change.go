package store

import "github.com/benfrankstein/untxt-sub002/pkg/models"

// ChangeOp is the kind of row change.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent describes one row change on a watched table. On postgres the
// same shape is produced by the notify trigger and decoded by the capture
// process; on sqlite the store emits it in-process. Either way the contract
// is hint-only: consumers reconcile against authoritative reads.
type ChangeEvent struct {
	Table    string         `json:"table"`
	Op       ChangeOp       `json:"operation"`
	RecordID string         `json:"record_id"`
	OwnerID  string         `json:"owner_id,omitempty"`
	Summary  models.JSONMap `json:"summary,omitempty"`
}

// ChangeNotifier receives change events for the watched tables (files,
// tasks, results, document_versions). It must not block: the store calls it
// synchronously after the owning transaction commits.
type ChangeNotifier func(ChangeEvent)

// SetChangeNotifier installs the in-process change notifier. Pass nil to
// disable. On postgres deployments the capture process listens to the
// database trigger stream instead and this stays unset.
func (s *GORMStore) SetChangeNotifier(fn ChangeNotifier) {
	s.notifier = fn
}

// notify emits a change event if a notifier is installed.
func (s *GORMStore) notify(ev ChangeEvent) {
	if s.notifier != nil {
		s.notifier(ev)
	}
}
