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
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.UnixMilli(1_700_000_000_000) }

func drain(t *testing.T, s *Subscription) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("subscription not closed; got %d events", len(out))
		}
	}
}

func countTerminal(events []Event) int {
	n := 0
	for _, e := range events {
		if IsTerminal(e) {
			n++
		}
	}
	return n
}

func TestEvent_JSONTagging(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{FileStarted{Path: "a.py"}, `{"type":"file_started","path":"a.py"}`},
		{DirCompleted{Path: ""}, `{"type":"dir_completed","path":""}`},
		{Error{Message: "boom"}, `{"type":"error","message":"boom"}`},
		{Cancelled{}, `{"type":"cancelled"}`},
		{Progress{Percent: 45, CurrentFile: "x.go"},
			`{"type":"progress","progress":45,"current_file":"x.go","stats":{"total_files":0,"processed_files":0,"total_dirs":0,"processed_dirs":0,"failed_count":0,"skipped_count":0,"start_time":null,"end_time":null}}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.event.Type()), func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.event, decoded)
		})
	}

	_, err := Decode([]byte(`{"type":"bogus"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestTaskState_Lifecycle(t *testing.T) {
	ts := newTaskState("run-1", "/src", "/docs", DefaultBufferSize, fixedNow)
	assert.Equal(t, StatusPending, ts.Status())

	require.True(t, ts.Start(3, 2))
	assert.False(t, ts.Start(3, 2))
	assert.False(t, ts.ShouldStop())

	snap := ts.Snapshot()
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 3, snap.Stats.TotalFiles)
	require.NotNil(t, snap.Stats.StartTime)

	ts.Publish(Progress{Percent: 30, CurrentFile: "a.py"})
	assert.Equal(t, "a.py", ts.Snapshot().CurrentFile)

	require.True(t, ts.Complete())
	snap = ts.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, float64(100), snap.Progress)
	assert.Empty(t, snap.CurrentFile)
	elapsed, ok := snap.Stats.ElapsedMillis()
	assert.True(t, ok)
	assert.Zero(t, elapsed)

	assert.False(t, ts.Fail("late"))
	assert.False(t, ts.Cancel())
}

func TestTaskState_FailOnlyOnce(t *testing.T) {
	ts := NewTaskState("r", "/s", "/d")
	ts.Start(1, 1)
	sub := ts.Subscribe()

	assert.True(t, ts.Fail("first"))
	assert.False(t, ts.Fail("second"))
	assert.True(t, ts.ShouldStop())
	ts.Publish(FileCompleted{Path: "draining.py"})
	ts.Finish()

	events := drain(t, sub)
	assert.Equal(t, 1, countTerminal(events))
	assert.Contains(t, events, Event(Error{Message: "first"}))
	assert.Contains(t, events, Event(FileCompleted{Path: "draining.py"}))
	assert.Equal(t, "first", ts.Snapshot().Error)
}

func TestTaskState_CancelPublishesOnFinish(t *testing.T) {
	ts := NewTaskState("r", "/s", "/d")
	ts.Start(1, 1)
	sub := ts.Subscribe()

	require.True(t, ts.Cancel())
	assert.True(t, ts.ShouldStop())
	assert.False(t, ts.Fail("after cancel"))
	ts.Finish()
	ts.Finish()

	events := drain(t, sub)
	require.NotEmpty(t, events)
	assert.Equal(t, Event(Cancelled{}), events[len(events)-1])
	assert.Equal(t, 1, countTerminal(events))
}

func TestTaskState_ReplayForLateSubscriber(t *testing.T) {
	ts := NewTaskState("r", "/s", "/d")
	ts.Start(3, 1)

	ts.Publish(FileStarted{Path: "a.py"})
	ts.Publish(FileCompleted{Path: "a.py"})
	ts.Publish(FileStarted{Path: "b.py"})
	ts.Publish(DirStarted{Path: "pkg"})
	ts.Publish(FileCompleted{Path: "c.py"})
	ts.Publish(DirCompleted{Path: "pkg"})
	ts.Publish(Progress{Percent: 50, CurrentFile: "b.py"})

	sub := ts.Subscribe()
	defer sub.Close()

	want := []Event{
		Progress{Percent: 50, CurrentFile: "b.py", Stats: ts.Snapshot().Stats},
		FileCompleted{Path: "a.py"},
		FileCompleted{Path: "c.py"},
		DirCompleted{Path: "pkg"},
		FileStarted{Path: "b.py"},
	}
	for i, w := range want {
		select {
		case got := <-sub.Events():
			assert.Equal(t, w, got, "replay event %d", i)
		case <-time.After(time.Second):
			t.Fatalf("missing replay event %d", i)
		}
	}

	ts.Publish(FileCompleted{Path: "b.py"})
	select {
	case got := <-sub.Events():
		assert.Equal(t, Event(FileCompleted{Path: "b.py"}), got)
	case <-time.After(time.Second):
		t.Fatal("live event not delivered")
	}
}

func TestTaskState_SubscribeAfterFinish(t *testing.T) {
	ts := NewTaskState("r", "/s", "/d")
	ts.Start(1, 0)
	ts.Publish(FileCompleted{Path: "a.py"})
	ts.Complete()
	ts.Finish()

	events := drain(t, ts.Subscribe())
	require.Len(t, events, 3)
	assert.IsType(t, Progress{}, events[0])
	assert.Equal(t, Event(FileCompleted{Path: "a.py"}), events[1])
	assert.IsType(t, Completed{}, events[2])
	assert.Equal(t, 0, ts.Subscribers())
}

func TestTaskState_ReplayRacesWithPublish(t *testing.T) {
	ts := newTaskState("r", "/s", "/d", 1000, time.Now)
	ts.Start(200, 0)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			ts.Publish(FileCompleted{Path: string(rune('a'+i%26)) + "/" + time.Duration(i).String()})
		}
	}()

	time.Sleep(time.Millisecond)
	sub := ts.Subscribe()
	seen := make(map[string]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.Events() {
			if fc, ok := e.(FileCompleted); ok {
				seen[fc.Path]++
			}
		}
	}()

	wg.Wait()
	ts.Complete()
	ts.Finish()
	<-done

	assert.Len(t, seen, n)
	for path, c := range seen {
		assert.Equal(t, 1, c, "duplicate delivery of %s", path)
	}
	assert.Zero(t, sub.Lagged())
}

func TestBroadcaster_LaggingSubscriberSkipsForward(t *testing.T) {
	ts := newTaskState("r", "/s", "/d", 4, fixedNow)
	ts.Start(10, 0)
	sub := ts.Subscribe()

	for i := 0; i < 10; i++ {
		ts.Publish(FileStarted{Path: time.Duration(i).String()})
	}

	assert.Greater(t, sub.Lagged(), uint64(0))
	ts.Finish()
	events := drain(t, sub)
	require.NotEmpty(t, events)
	assert.Equal(t, Event(FileStarted{Path: time.Duration(9).String()}), events[len(events)-1])
}

func TestSubscription_Close(t *testing.T) {
	ts := NewTaskState("r", "/s", "/d")
	sub := ts.Subscribe()
	assert.Equal(t, 1, ts.Subscribers())
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, ts.Subscribers())
	drain(t, sub)
}
