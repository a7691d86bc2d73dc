package sim

import (
	"container/heap"
	"math"

	"trialcore/pkg/domain"
)

type eventKey struct {
	entityID string
	typ      domain.EventType
}

type patientState struct {
	state string
	// next holds the sampled target of the patient's pending transition.
	next string
}

type activityState struct {
	started   bool
	completed bool
}

// runState is the fully run-local mutable state of one simulation run. It
// implements domain.RunView for constraint evaluation. Nothing in here is
// shared across runs.
type runState struct {
	masterSeed int64
	runIndex   int

	clock float64
	seq   uint64
	queue eventQueue

	enrolled     int
	siteEnrolled map[string]int
	patients     map[string]*patientState
	terminal     int

	activities map[string]*activityState
	completed  int

	usage map[string]int
	// holds tracks, per resource, which activity holds each unit and when
	// that unit is scheduled to free. Keying by holder keeps the entry
	// correct when constraints push the completion past its sampled time.
	holds map[string]map[string]float64

	// deferrals counts how often each event was rescheduled, keyed by the
	// event's run-local sequence number.
	deferrals map[uint64]int

	budgetSpent float64

	executed map[eventKey]float64
	pending  map[eventKey]map[uint64]float64

	timeline []TimelineEntry
}

func newRunState(masterSeed int64, runIndex int) *runState {
	return &runState{
		masterSeed:   masterSeed,
		runIndex:     runIndex,
		siteEnrolled: make(map[string]int),
		patients:     make(map[string]*patientState),
		activities:   make(map[string]*activityState),
		usage:        make(map[string]int),
		holds:        make(map[string]map[string]float64),
		deferrals:    make(map[uint64]int),
		executed:     make(map[eventKey]float64),
		pending:      make(map[eventKey]map[uint64]float64),
	}
}

// nextSeq hands out the run-local event sequence numbers that order heap
// ties and key per-event seed derivation.
func (rs *runState) nextSeq() uint64 {
	rs.seq++
	return rs.seq
}

func (rs *runState) enqueue(ev *domain.Event) {
	heap.Push(&rs.queue, ev)
	key := eventKey{ev.EntityID, ev.Type}
	if rs.pending[key] == nil {
		rs.pending[key] = make(map[uint64]float64, 1)
	}
	rs.pending[key][ev.Sequence] = ev.Time
}

func (rs *runState) dequeue() *domain.Event {
	ev := heap.Pop(&rs.queue).(*domain.Event)
	key := eventKey{ev.EntityID, ev.Type}
	delete(rs.pending[key], ev.Sequence)
	if len(rs.pending[key]) == 0 {
		delete(rs.pending, key)
	}
	return ev
}

func (rs *runState) markExecuted(ev *domain.Event) {
	key := eventKey{ev.EntityID, ev.Type}
	if _, ok := rs.executed[key]; !ok {
		rs.executed[key] = ev.Time
	}
}

func (rs *runState) record(ev *domain.Event, description string) {
	rs.timeline = append(rs.timeline, TimelineEntry{
		Time:        ev.Time,
		Type:        ev.Type,
		EntityID:    ev.EntityID,
		Description: description,
	})
}

// Clock implements domain.RunView.
func (rs *runState) Clock() float64 { return rs.clock }

// EventTime implements domain.RunView.
func (rs *runState) EventTime(entityID string, typ domain.EventType) (float64, bool) {
	t, ok := rs.executed[eventKey{entityID, typ}]
	return t, ok
}

// PendingEventTime implements domain.RunView. With several pending events
// of the same kind for one entity it reports the earliest.
func (rs *runState) PendingEventTime(entityID string, typ domain.EventType) (float64, bool) {
	times, ok := rs.pending[eventKey{entityID, typ}]
	if !ok || len(times) == 0 {
		return 0, false
	}
	earliest := math.Inf(1)
	for _, t := range times {
		if t < earliest {
			earliest = t
		}
	}
	return earliest, true
}

// EnrollmentCount implements domain.RunView.
func (rs *runState) EnrollmentCount() int { return rs.enrolled }

// ResourceUsage implements domain.RunView.
func (rs *runState) ResourceUsage(resourceID string) int { return rs.usage[resourceID] }

// NextResourceRelease implements domain.RunView.
func (rs *runState) NextResourceRelease(resourceID string) (float64, bool) {
	holders := rs.holds[resourceID]
	if len(holders) == 0 {
		return 0, false
	}
	earliest := math.Inf(1)
	for _, t := range holders {
		if t < earliest {
			earliest = t
		}
	}
	return earliest, true
}

// BudgetSpent implements domain.RunView.
func (rs *runState) BudgetSpent() float64 { return rs.budgetSpent }

func (rs *runState) acquireResource(id, holder string, release float64) {
	rs.usage[id]++
	if rs.holds[id] == nil {
		rs.holds[id] = make(map[string]float64, 1)
	}
	rs.holds[id][holder] = release
}

func (rs *runState) releaseResource(id, holder string) {
	if _, held := rs.holds[id][holder]; !held {
		return
	}
	delete(rs.holds[id], holder)
	if rs.usage[id] > 0 {
		rs.usage[id]--
	}
}

// deferRelease moves a holder's scheduled release, keeping the view honest
// when the releasing event itself is rescheduled.
func (rs *runState) deferRelease(id, holder string, release float64) {
	if _, held := rs.holds[id][holder]; held {
		rs.holds[id][holder] = release
	}
}

var _ domain.RunView = (*runState)(nil)
