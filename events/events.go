// Package events defines the progress notifications emitted while importing,
// reconciling and publishing suites. Core packages never log: they hand
// events to a Listener, which the command line renders or counts.
package events

import (
	"encoding/json"
	"fmt"
)

// Listener is a callback function that receives events as they happen.
type Listener func(fmt.Stringer)

// Emit calls l with e, if l is set.
func (l Listener) Emit(e fmt.Stringer) {
	if l != nil {
		l(e)
	}
}

// Multi returns a Listener forwarding every event to each of ls.
func Multi(ls ...Listener) Listener {
	return func(e fmt.Stringer) {
		for _, l := range ls {
			l.Emit(e)
		}
	}
}

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventRecordCreated is emitted when a stanza is stored as a new record.
type EventRecordCreated struct {
	ID           string `json:"id"`
	Package      string `json:"package,omitempty"`
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
}

func (e EventRecordCreated) String() string { return jsonString(e) }

// EventRecordFound is emitted when a stanza matches an existing record verbatim.
type EventRecordFound struct {
	ID string `json:"id"`
}

func (e EventRecordFound) String() string { return jsonString(e) }

// EventStanzaSkipped is emitted when an imported stanza cannot become a record.
type EventStanzaSkipped struct {
	Suite  string `json:"suite,omitempty"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e EventStanzaSkipped) String() string { return jsonString(e) }

// EventChangesetAppended is emitted when a changeset is added to a suite's log.
type EventChangesetAppended struct {
	Suite   string `json:"suite"`
	ID      string `json:"id"`
	Seq     uint64 `json:"seq"`
	Added   int    `json:"added,omitempty"`
	Removed int    `json:"removed,omitempty"`
}

func (e EventChangesetAppended) String() string { return jsonString(e) }

// EventNoChange is emitted when a reconciliation finds nothing to change.
type EventNoChange struct {
	Suite string `json:"suite"`
}

func (e EventNoChange) String() string { return jsonString(e) }

// EventReconcileRetry is emitted when a concurrent writer took the changeset
// slot first and the reconciliation starts over.
type EventReconcileRetry struct {
	Suite   string `json:"suite"`
	Attempt int    `json:"attempt"`
}

func (e EventReconcileRetry) String() string { return jsonString(e) }

// EventSuiteCreated is emitted when a suite's baseline document is committed.
type EventSuiteCreated struct {
	Suite    string `json:"suite"`
	Baseline int    `json:"baseline,omitempty"`
}

func (e EventSuiteCreated) String() string { return jsonString(e) }

// EventSuiteExported is emitted once every record of a suite has been written out.
type EventSuiteExported struct {
	Suite   string `json:"suite"`
	Records int    `json:"records"`
}

func (e EventSuiteExported) String() string { return jsonString(e) }

// EventFetchRetry is emitted when downloading a source failed and will be retried.
type EventFetchRetry struct {
	Location string `json:"location"`
	Error    string `json:"error"`
}

func (e EventFetchRetry) String() string { return jsonString(e) }

// EventFileOperation is emitted when a published file is written or left untouched.
type EventFileOperation struct {
	Path      string `json:"path,omitempty"`
	OldDigest string `json:"old_digest,omitempty"`
	NewDigest string `json:"new_digest,omitempty"`
	Created   bool   `json:"created,omitempty"`
	Updated   bool   `json:"updated,omitempty"`
}

func (e EventFileOperation) String() string { return jsonString(e) }

// EventSuiteSynced is emitted when a manifest suite has been brought up to date
// with its source.
type EventSuiteSynced struct {
	Suite     string `json:"suite"`
	Source    string `json:"source,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Unchanged bool   `json:"unchanged,omitempty"`
}

func (e EventSuiteSynced) String() string { return jsonString(e) }

// EventSuitePublished is emitted when a suite's repository files were written.
type EventSuitePublished struct {
	Suite  string `json:"suite"`
	Path   string `json:"path"`
	Signed bool   `json:"signed,omitempty"`
}

func (e EventSuitePublished) String() string { return jsonString(e) }
