// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further work may start in this state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RunState is a point-in-time copy of a run record.
type RunState struct {
	ID          string    `json:"id"`
	SourcePath  string    `json:"source_path"`
	DocsPath    string    `json:"docs_path"`
	Status      Status    `json:"status"`
	Progress    float64   `json:"progress"`
	CurrentFile string    `json:"current_file,omitempty"`
	Error       string    `json:"error,omitempty"`
	Stats       Stats     `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
}

type pathEntry struct {
	path   string
	isFile bool
}

// TaskState is the mutable record of one run plus its event fan-out.
//
// Description:
//
//	Every event goes through Publish, which updates the replay log and
//	broadcasts under one lock. Subscribe builds its replay under the same
//	lock, so a subscriber sees each event exactly once, either replayed
//	or live.
//
//	Exactly one terminal event is published per run: Completed from
//	Complete, Error from the first Fail, or Cancelled from Finish after a
//	cancel request. Finish closes every subscription.
//
// Thread Safety: safe for concurrent use.
type TaskState struct {
	mu         sync.Mutex
	state      RunState
	completed  []pathEntry
	inProgress map[pathEntry]struct{}
	startOrder []pathEntry
	terminal   Event
	finished   bool
	bc         *broadcaster
	now        func() time.Time
}

// NewTaskState returns a Pending run record.
func NewTaskState(id, sourcePath, docsPath string) *TaskState {
	return newTaskState(id, sourcePath, docsPath, DefaultBufferSize, time.Now)
}

func newTaskState(id, sourcePath, docsPath string, buffer int, now func() time.Time) *TaskState {
	return &TaskState{
		state: RunState{
			ID:         id,
			SourcePath: sourcePath,
			DocsPath:   docsPath,
			Status:     StatusPending,
			CreatedAt:  now(),
		},
		inProgress: make(map[pathEntry]struct{}),
		bc:         newBroadcaster(buffer),
		now:        now,
	}
}

// Snapshot returns a copy of the run record.
func (t *TaskState) Snapshot() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Status returns the current status.
func (t *TaskState) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Status
}

// ShouldStop reports whether new node work must not start.
func (t *TaskState) ShouldStop() bool {
	s := t.Status()
	return s == StatusCancelled || s == StatusFailed
}

// Start moves a Pending run to Running and records the totals.
func (t *TaskState) Start(totalFiles, totalDirs int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status != StatusPending {
		return false
	}
	t.state.Status = StatusRunning
	t.state.Stats.TotalFiles = totalFiles
	t.state.Stats.TotalDirs = totalDirs
	ms := t.now().UnixMilli()
	t.state.Stats.StartTime = &ms
	return true
}

// Update applies fn to the run record under the lock. fn must not call
// back into t.
func (t *TaskState) Update(fn func(s *RunState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.state)
}

// Publish records e in the replay log and broadcasts it. Terminal events
// are rejected; use Complete, Fail or Finish.
func (t *TaskState) Publish(e Event) {
	if IsTerminal(e) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(e)
	t.bc.publish(e)
}

func (t *TaskState) record(e Event) {
	switch v := e.(type) {
	case Progress:
		t.state.Progress = v.Percent
		t.state.CurrentFile = v.CurrentFile
	case FileStarted:
		t.started(pathEntry{v.Path, true})
	case DirStarted:
		t.started(pathEntry{v.Path, false})
	case FileCompleted:
		t.done(pathEntry{v.Path, true})
	case DirCompleted:
		t.done(pathEntry{v.Path, false})
	}
}

func (t *TaskState) started(p pathEntry) {
	if _, ok := t.inProgress[p]; ok {
		return
	}
	t.inProgress[p] = struct{}{}
	t.startOrder = append(t.startOrder, p)
}

func (t *TaskState) done(p pathEntry) {
	if _, ok := t.inProgress[p]; ok {
		delete(t.inProgress, p)
		for i, q := range t.startOrder {
			if q == p {
				t.startOrder = append(t.startOrder[:i], t.startOrder[i+1:]...)
				break
			}
		}
	}
	t.completed = append(t.completed, p)
}

// Complete marks a Running run Completed and publishes Completed.
func (t *TaskState) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status != StatusRunning {
		return false
	}
	t.state.Status = StatusCompleted
	t.state.Progress = 100
	t.state.CurrentFile = ""
	t.stampEnd()
	t.emitTerminal(Completed{Stats: t.state.Stats})
	return true
}

// Fail marks the run Failed with msg and publishes Error. Only the first
// failure of a non-terminal run takes effect.
func (t *TaskState) Fail(msg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status.IsTerminal() {
		return false
	}
	t.state.Status = StatusFailed
	t.state.Error = msg
	t.stampEnd()
	t.emitTerminal(Error{Message: msg})
	return true
}

// Cancel requests cancellation. Work already started runs to completion;
// Finish publishes Cancelled once the run has drained.
func (t *TaskState) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status.IsTerminal() {
		return false
	}
	t.state.Status = StatusCancelled
	t.stampEnd()
	return true
}

// Finish ends the event stream. It publishes Cancelled for a cancelled
// run and closes every subscription. Later calls do nothing.
func (t *TaskState) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	if t.state.Status == StatusCancelled && t.terminal == nil {
		t.emitTerminal(Cancelled{})
	}
	t.bc.close()
}

// Finished reports whether Finish has run.
func (t *TaskState) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

func (t *TaskState) emitTerminal(e Event) {
	if t.terminal != nil {
		return
	}
	t.terminal = e
	t.bc.publish(e)
}

func (t *TaskState) stampEnd() {
	ms := t.now().UnixMilli()
	t.state.Stats.EndTime = &ms
}

// Subscribe attaches a new subscriber.
//
// Description:
//
//	The subscription first yields a Progress snapshot, then one completed
//	event per finished node in completion order, then a started event per
//	node still in progress, then the terminal event if one was published.
//	Live events follow. A subscriber attaching after Finish receives the
//	replay and a closed channel.
func (t *TaskState) Subscribe() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	replay := make([]Event, 0, 2+len(t.completed)+len(t.startOrder))
	replay = append(replay, Progress{
		Percent:     t.state.Progress,
		CurrentFile: t.state.CurrentFile,
		Stats:       t.state.Stats,
	})
	for _, p := range t.completed {
		if p.isFile {
			replay = append(replay, FileCompleted{Path: p.path})
		} else {
			replay = append(replay, DirCompleted{Path: p.path})
		}
	}
	for _, p := range t.startOrder {
		if p.isFile {
			replay = append(replay, FileStarted{Path: p.path})
		} else {
			replay = append(replay, DirStarted{Path: p.path})
		}
	}
	if t.terminal != nil {
		replay = append(replay, t.terminal)
	}
	return t.bc.add(replay)
}

// Subscribers returns the number of attached subscribers.
func (t *TaskState) Subscribers() int {
	return t.bc.count()
}
