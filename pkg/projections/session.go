package projections

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

// State summarises one session stream: identity, lifecycle, and activity
// counters.
type State struct {
	ThreadID         string
	Status           Status
	MessageCount     int
	LLMCallCount     int
	ToolCallCount    int
	ErrorCount       int
	SessionStartTime time.Time // zero when no SessionStarted was seen
	SessionEndTime   time.Time // zero until SessionCompleted
	LastActivityTime time.Time
}

// Active reports whether the session is still running.
func (s State) Active() bool { return s.Status == StatusActive }

// Duration returns the session's length: start to completion when the session
// has ended, start to last activity otherwise. ok is false when the stream
// carries no SessionStarted.
func (s State) Duration() (time.Duration, bool) {
	if s.SessionStartTime.IsZero() {
		return 0, false
	}
	end := s.SessionEndTime
	if end.IsZero() {
		end = s.LastActivityTime
	}
	if end.IsZero() {
		return 0, false
	}
	return end.Sub(s.SessionStartTime), true
}

// SessionState folds a session stream into its current State. Empty input is
// an error, as is a first event whose stream name carries no thread id.
//
// Status resolution: a SessionCompleted event is final regardless of what
// follows it; its completion reason decides Completed ("success" or
// "completed") versus Failed (anything else). A termination request without a
// completion leaves the session Terminated. Otherwise the session is Active,
// errors and all.
func SessionState(evts []events.Event) (State, error) {
	if len(evts) == 0 {
		return State{}, errors.New("cannot project session state: no events")
	}
	threadID, err := threadIDFromStream(evts[0].StreamName)
	if err != nil {
		return State{}, err
	}

	st := State{
		ThreadID:         threadID,
		Status:           StatusActive,
		LastActivityTime: evts[len(evts)-1].Time,
	}
	completed := false
	completionReason := ""
	terminationRequested := false

	for _, e := range evts {
		switch e.Type {
		case events.TypeUserMessageAdded:
			st.MessageCount++
		case events.TypeLLMResponseReceived:
			st.LLMCallCount++
		case events.TypeToolExecutionCompleted:
			st.ToolCallCount++
		case events.TypeLLMCallFailed, events.TypeToolExecutionFailed:
			st.ErrorCount++
		case events.TypeSessionStarted:
			if st.SessionStartTime.IsZero() {
				st.SessionStartTime = e.Time
			}
		case events.TypeSessionTerminationRequested:
			terminationRequested = true
		case events.TypeSessionCompleted:
			completed = true
			st.SessionEndTime = e.Time
			p, _ := events.Decode(e).(events.SessionCompleted)
			completionReason = p.CompletionReason
		}
	}

	switch {
	case completed:
		if completionReason == "success" || completionReason == "completed" {
			st.Status = StatusCompleted
		} else {
			st.Status = StatusFailed
		}
	case terminationRequested:
		st.Status = StatusTerminated
	}
	return st, nil
}

// threadIDFromStream pulls the entity id out of a category:version-entityId
// stream name.
func threadIDFromStream(stream string) (string, error) {
	_, rest, ok := strings.Cut(stream, ":")
	if !ok {
		return "", fmt.Errorf("stream name %q has no category separator", stream)
	}
	_, id, ok := strings.Cut(rest, "-")
	if !ok || id == "" {
		return "", fmt.Errorf("stream name %q has no thread id", stream)
	}
	return id, nil
}
