package trace

import (
	"sort"
	"time"
)

// Span is the time a task spent on a worker, from ASSIGN to FINISH.
type Span struct {
	Worker int
	Task   int
	Steps  int
	Start  time.Time
	End    time.Time // zero if the task never finished
}

// Duration returns End - Start, or 0 for an unfinished span.
func (s Span) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Timeline rebuilds per-task spans from events, ordered by worker then start.
func Timeline(events []Event) []Span {
	spans := make(map[int]*Span)
	order := make([]int, 0)

	for _, e := range events {
		ts := time.UnixMicro(e.Timestamp)
		switch e.Type {
		case EventAssign:
			if _, ok := spans[e.Task]; !ok {
				order = append(order, e.Task)
			}
			spans[e.Task] = &Span{Worker: e.Worker, Task: e.Task, Start: ts}
		case EventStep:
			if s, ok := spans[e.Task]; ok {
				s.Steps++
			}
		case EventFinish:
			if s, ok := spans[e.Task]; ok {
				s.End = ts
			}
		}
	}

	out := make([]Span, 0, len(order))
	for _, id := range order {
		out = append(out, *spans[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Worker != out[j].Worker {
			return out[i].Worker < out[j].Worker
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Counts returns the number of events per type.
func Counts(events []Event) map[EventType]int {
	counts := make(map[EventType]int)
	for _, e := range events {
		counts[e.Type]++
	}
	return counts
}
