package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReleaseState is a step in the per-release lifecycle of a sync run
type ReleaseState string

const (
	ReleaseStateDiscovered ReleaseState = "discovered"
	ReleaseStateProbed     ReleaseState = "probed"
	ReleaseStateSkipped    ReleaseState = "skipped"
	ReleaseStateResolving  ReleaseState = "resolving"
	ReleaseStateResolved   ReleaseState = "resolved"
	ReleaseStateBuilding   ReleaseState = "building"
	ReleaseStatePublished  ReleaseState = "published"
	ReleaseStateFailed     ReleaseState = "failed"
)

var releaseTransitions = map[ReleaseState][]ReleaseState{
	ReleaseStateDiscovered: {ReleaseStateProbed, ReleaseStateFailed},
	ReleaseStateProbed:     {ReleaseStateSkipped, ReleaseStateResolving, ReleaseStateFailed},
	ReleaseStateResolving:  {ReleaseStateResolved, ReleaseStateFailed},
	ReleaseStateResolved:   {ReleaseStateBuilding, ReleaseStateFailed},
	ReleaseStateBuilding:   {ReleaseStatePublished, ReleaseStateFailed},
}

// CanTransition reports whether a release may move from one state to another
func CanTransition(from, to ReleaseState) bool {
	for _, next := range releaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s ReleaseState) IsTerminal() bool {
	return len(releaseTransitions[s]) == 0
}

// ReleaseTracker follows a single release through its lifecycle
type ReleaseTracker struct {
	Tag    string
	state  ReleaseState
	Commit CommitRef
}

// NewReleaseTracker starts tracking a freshly discovered release
func NewReleaseTracker(tag string) *ReleaseTracker {
	return &ReleaseTracker{Tag: tag, state: ReleaseStateDiscovered}
}

// NewLatestTracker tracks the default branch image, which is never probed.
func NewLatestTracker(tag string) *ReleaseTracker {
	return &ReleaseTracker{Tag: tag, state: ReleaseStateResolving}
}

// State returns the current state
func (t *ReleaseTracker) State() ReleaseState {
	return t.state
}

// Advance moves the release to the next state, rejecting transitions the lifecycle does not allow
func (t *ReleaseTracker) Advance(next ReleaseState) error {
	if !CanTransition(t.state, next) {
		return fmt.Errorf("release %s: invalid transition %s -> %s", t.Tag, t.state, next)
	}
	t.state = next
	return nil
}

// OutcomeStatus is the final, user visible result for one release or for "latest"
type OutcomeStatus string

const (
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomePublished OutcomeStatus = "published"
	OutcomePlanned   OutcomeStatus = "planned"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome records what happened to one artifact tag during a run
type Outcome struct {
	Tag         string        `json:"tag"`
	Status      OutcomeStatus `json:"status"`
	State       ReleaseState  `json:"state"`
	Commit      CommitRef     `json:"commit,omitempty"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// FailedOutcome builds an outcome for a release-scoped or task-scoped failure
func FailedOutcome(tag string, commit CommitRef, err error) Outcome {
	return Outcome{
		Tag:         tag,
		Status:      OutcomeFailed,
		State:       ReleaseStateFailed,
		Commit:      commit,
		FailureKind: ClassifyError(err),
		Reason:      err.Error(),
	}
}

// Outcome converts the tracker's state into a report outcome. err is the failure that stopped
// the release, if any. A release left in Resolved was planned but not built.
func (t *ReleaseTracker) Outcome(err error) Outcome {
	switch {
	case err != nil:
		return FailedOutcome(t.Tag, t.Commit, err)
	case t.state == ReleaseStateSkipped:
		return Outcome{Tag: t.Tag, Status: OutcomeSkipped, State: t.state, Commit: t.Commit}
	case t.state == ReleaseStatePublished:
		return Outcome{Tag: t.Tag, Status: OutcomePublished, State: t.state, Commit: t.Commit}
	case t.state == ReleaseStateResolved:
		return Outcome{Tag: t.Tag, Status: OutcomePlanned, State: t.state, Commit: t.Commit}
	default:
		return FailedOutcome(t.Tag, t.Commit, fmt.Errorf("release stopped in state %s", t.state))
	}
}

// SyncReport summarizes a sync run. Record and SetLatest are safe for concurrent use.
type SyncReport struct {
	RunID       string      `json:"run_id"`
	Image       string      `json:"image"`
	DryRun      bool        `json:"dry_run"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Releases    []Outcome   `json:"releases"`
	Latest      *Outcome    `json:"latest,omitempty"`
	RunFailure  FailureKind `json:"run_failure,omitempty"`
	RunError    string      `json:"run_error,omitempty"`
	mu          sync.Mutex
	recordedTag map[string]struct{}
}

// NewSyncReport creates an empty report with a fresh run ID
func NewSyncReport(image string, dryRun bool) *SyncReport {
	return &SyncReport{
		RunID:       uuid.New().String(),
		Image:       image,
		DryRun:      dryRun,
		StartedAt:   time.Now(),
		Releases:    []Outcome{},
		recordedTag: make(map[string]struct{}),
	}
}

// Record adds the outcome of one release. A tag is recorded at most once; later records are ignored.
func (r *SyncReport) Record(outcome Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordedTag == nil {
		r.recordedTag = make(map[string]struct{})
	}
	if _, ok := r.recordedTag[outcome.Tag]; ok {
		return false
	}
	r.recordedTag[outcome.Tag] = struct{}{}
	r.Releases = append(r.Releases, outcome)
	return true
}

// SetLatest records the outcome of the "latest" task
func (r *SyncReport) SetLatest(outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Latest = &outcome
}

// Abort marks the run as failed before any release was processed
func (r *SyncReport) Abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RunFailure = ClassifyError(err)
	r.RunError = err.Error()
	r.FinishedAt = time.Now()
}

// Finish stamps the end time and orders release outcomes by tag
func (r *SyncReport) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	SortOutcomes(r.Releases)
	r.FinishedAt = time.Now()
}

// Outcome returns the recorded outcome for a release tag
func (r *SyncReport) Outcome(tag string) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.Releases {
		if o.Tag == tag {
			return o, true
		}
	}
	return Outcome{}, false
}

// Counts returns the number of release outcomes per status
func (r *SyncReport) Counts() map[OutcomeStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[OutcomeStatus]int)
	for _, o := range r.Releases {
		counts[o.Status]++
	}
	return counts
}

// HasFailures reports whether the run aborted or any release or the "latest" task failed
func (r *SyncReport) HasFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RunFailure != FailureKindNone {
		return true
	}
	if r.Latest != nil && r.Latest.Status == OutcomeFailed {
		return true
	}
	for _, o := range r.Releases {
		if o.Status == OutcomeFailed {
			return true
		}
	}
	return false
}

// Duration returns how long the run took
func (r *SyncReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
