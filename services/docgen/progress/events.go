// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress holds the state of one documentation run and fans its
// progress events out to any number of subscribers.
package progress

import (
	"encoding/json"
	"fmt"
)

// EventType is the "type" tag of an encoded Event.
type EventType string

const (
	TypeProgress      EventType = "progress"
	TypeFileStarted   EventType = "file_started"
	TypeFileCompleted EventType = "file_completed"
	TypeDirStarted    EventType = "dir_started"
	TypeDirCompleted  EventType = "dir_completed"
	TypeCompleted     EventType = "completed"
	TypeError         EventType = "error"
	TypeCancelled     EventType = "cancelled"
)

// Event is one progress notification. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	Type() EventType
	isEvent()
}

// Stats are the run counters. Times are Unix milliseconds.
type Stats struct {
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	TotalDirs      int    `json:"total_dirs"`
	ProcessedDirs  int    `json:"processed_dirs"`
	FailedCount    int    `json:"failed_count"`
	SkippedCount   int    `json:"skipped_count"`
	StartTime      *int64 `json:"start_time"`
	EndTime        *int64 `json:"end_time"`
}

// ElapsedMillis returns EndTime-StartTime, or false while either is unset.
func (s Stats) ElapsedMillis() (int64, bool) {
	if s.StartTime == nil || s.EndTime == nil {
		return 0, false
	}
	return *s.EndTime - *s.StartTime, true
}

type Progress struct {
	Percent     float64 `json:"progress"`
	CurrentFile string  `json:"current_file,omitempty"`
	Stats       Stats   `json:"stats"`
}

type FileStarted struct {
	Path string `json:"path"`
}

type FileCompleted struct {
	Path string `json:"path"`
}

type DirStarted struct {
	Path string `json:"path"`
}

type DirCompleted struct {
	Path string `json:"path"`
}

type Completed struct {
	Stats Stats `json:"stats"`
}

type Error struct {
	Message string `json:"message"`
}

type Cancelled struct{}

func (Progress) Type() EventType      { return TypeProgress }
func (FileStarted) Type() EventType   { return TypeFileStarted }
func (FileCompleted) Type() EventType { return TypeFileCompleted }
func (DirStarted) Type() EventType    { return TypeDirStarted }
func (DirCompleted) Type() EventType  { return TypeDirCompleted }
func (Completed) Type() EventType     { return TypeCompleted }
func (Error) Type() EventType         { return TypeError }
func (Cancelled) Type() EventType     { return TypeCancelled }

func (Progress) isEvent()      {}
func (FileStarted) isEvent()   {}
func (FileCompleted) isEvent() {}
func (DirStarted) isEvent()    {}
func (DirCompleted) isEvent()  {}
func (Completed) isEvent()     {}
func (Error) isEvent()         {}
func (Cancelled) isEvent()     {}

// IsTerminal reports whether e ends a run's event stream.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Completed, Error, Cancelled:
		return true
	}
	return false
}

// =============================================================================
// JSON
// =============================================================================

func (e Progress) MarshalJSON() ([]byte, error) {
	type body Progress
	return json.Marshal(struct {
		Type EventType `json:"type"`
		body
	}{e.Type(), body(e)})
}

func (e FileStarted) MarshalJSON() ([]byte, error) {
	type body FileStarted
	return json.Marshal(struct {
		Type EventType `json:"type"`
		body
	}{e.Type(), body(e)})
}

func (e FileCompleted) MarshalJSON() ([]byte, error) {
	type body FileCompleted
	return json.Marshal(struct {
		Type EventType `json:"type"`
		body
	}{e.Type(), body(e)})
}

func (e DirStarted) MarshalJSON() ([]byte, error) {
	type body DirStarted
	return json.Marshal(struct {
		Type EventType `json:"type"`
		body
	}{e.Type(), body(e)})
}

func (e DirCompleted) MarshalJSON() ([]byte, error) {
	type body DirCompleted
	return json.Marshal(struct {
		Type EventType `json:"type"`
		body
	}{e.Type(), body(e)})
}

func (e Completed) MarshalJSON() ([]byte, error) {
	type body Completed
	return json.Marshal(struct {
		Type EventType `json:"type"`
		body
	}{e.Type(), body(e)})
}

func (e Error) MarshalJSON() ([]byte, error) {
	type body Error
	return json.Marshal(struct {
		Type EventType `json:"type"`
		body
	}{e.Type(), body(e)})
}

func (e Cancelled) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type EventType `json:"type"`
	}{e.Type()})
}

// Decode parses one encoded event.
func Decode(data []byte) (Event, error) {
	var tag struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode event tag: %w", err)
	}

	switch tag.Type {
	case TypeProgress:
		return decodeAs[Progress](data)
	case TypeFileStarted:
		return decodeAs[FileStarted](data)
	case TypeFileCompleted:
		return decodeAs[FileCompleted](data)
	case TypeDirStarted:
		return decodeAs[DirStarted](data)
	case TypeDirCompleted:
		return decodeAs[DirCompleted](data)
	case TypeCompleted:
		return decodeAs[Completed](data)
	case TypeError:
		return decodeAs[Error](data)
	case TypeCancelled:
		return Cancelled{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, tag.Type)
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", v.Type(), err)
	}
	return v, nil
}
