package metrics

import (
	"sync"
	"time"
)

// Link names a network path the agent probes.
type Link string

const (
	LinkWAN Link = "wan"
	LinkLAN Link = "lan"
)

const defaultEventBufferSize = 256

// ConnectivityEvent is a change of a link between up and down.
type ConnectivityEvent struct {
	Link      Link      `json:"link"`
	Up        bool      `json:"up"`
	Timestamp time.Time `json:"timestamp"`
	// DownForMs is set on recovery events: how long the link was down.
	DownForMs int64 `json:"down_for_ms,omitempty"`
}

// LinkStatus summarizes the probe history of one link.
type LinkStatus struct {
	Link            Link      `json:"link"`
	Known           bool      `json:"known"`
	Up              bool      `json:"up"`
	Probes          int64     `json:"probes"`
	Failures        int64     `json:"failures"`
	Outages         int64     `json:"outages"`
	LastChange      time.Time `json:"last_change"`
	TotalDowntimeMs int64     `json:"total_downtime_ms"`
	Availability    float64   `json:"availability"`
}

type linkState struct {
	known      bool
	up         bool
	probes     int64
	failures   int64
	outages    int64
	lastChange time.Time
	downtimeMs int64
}

// ConnectivityTracker records probe outcomes and derives outages from them.
type ConnectivityTracker struct {
	mu sync.RWMutex

	links     map[Link]*linkState
	events    []ConnectivityEvent
	maxEvents int

	nowFunc func() time.Time
}

// NewConnectivityTracker creates an empty tracker.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		links:     make(map[Link]*linkState),
		events:    make([]ConnectivityEvent, 0, defaultEventBufferSize),
		maxEvents: defaultEventBufferSize,
		nowFunc:   time.Now,
	}
}

// RecordProbe records one probe of link. A transition from up to down starts
// an outage; the first probe of a link never counts as a transition.
func (ct *ConnectivityTracker) RecordProbe(link Link, up bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	now := ct.nowFunc()
	st, ok := ct.links[link]
	if !ok {
		st = &linkState{}
		ct.links[link] = st
	}

	st.probes++
	if !up {
		st.failures++
	}

	if !st.known {
		st.known = true
		st.up = up
		st.lastChange = now
		if !up {
			st.outages++
		}
		return
	}
	if st.up == up {
		return
	}

	event := ConnectivityEvent{Link: link, Up: up, Timestamp: now}
	if up {
		down := now.Sub(st.lastChange).Milliseconds()
		st.downtimeMs += down
		event.DownForMs = down
	} else {
		st.outages++
	}
	st.up = up
	st.lastChange = now
	ct.appendEvent(event)
}

func (ct *ConnectivityTracker) appendEvent(event ConnectivityEvent) {
	if len(ct.events) >= ct.maxEvents {
		ct.events = ct.events[1:]
	}
	ct.events = append(ct.events, event)
}

// Status returns the current summary of link.
func (ct *ConnectivityTracker) Status(link Link) LinkStatus {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	st, ok := ct.links[link]
	if !ok {
		return LinkStatus{Link: link}
	}

	downtime := st.downtimeMs
	if st.known && !st.up {
		downtime += ct.nowFunc().Sub(st.lastChange).Milliseconds()
	}

	availability := float64(0)
	if st.probes > 0 {
		availability = float64(st.probes-st.failures) / float64(st.probes) * 100
	}

	return LinkStatus{
		Link:            link,
		Known:           st.known,
		Up:              st.up,
		Probes:          st.probes,
		Failures:        st.failures,
		Outages:         st.outages,
		LastChange:      st.lastChange,
		TotalDowntimeMs: downtime,
		Availability:    availability,
	}
}

// RecentEvents returns the most recent n transitions, oldest first.
func (ct *ConnectivityTracker) RecentEvents(n int) []ConnectivityEvent {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	if n <= 0 || len(ct.events) == 0 {
		return nil
	}

	start := len(ct.events) - n
	if start < 0 {
		start = 0
	}

	result := make([]ConnectivityEvent, len(ct.events)-start)
	copy(result, ct.events[start:])
	return result
}

// Reset clears all tracking data.
func (ct *ConnectivityTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.links = make(map[Link]*linkState)
	ct.events = ct.events[:0]
}
