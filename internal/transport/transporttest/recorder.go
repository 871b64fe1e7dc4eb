// Package transporttest provides an in-memory transport.Transport for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"hecticradio.app/live/internal/transport"
)

// Emit is one recorded emit. ConnID is set for EmitToConn, Room otherwise.
type Emit struct {
	Room   string
	ConnID string
	Event  string
	Data   json.RawMessage
	Except []string
}

// Decode unmarshals the payload into v.
func (e Emit) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

type Recorder struct {
	mu    sync.Mutex
	emits []Emit
	rooms map[string]map[string]bool
}

var _ transport.Transport = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{rooms: make(map[string]map[string]bool)}
}

func (r *Recorder) EmitToRoom(_ context.Context, room, event string, payload any, except ...string) {
	data, _ := json.Marshal(payload)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = append(r.emits, Emit{Room: room, Event: event, Data: data, Except: slices.Clone(except)})
}

func (r *Recorder) EmitToConn(_ context.Context, connID, event string, payload any) {
	data, _ := json.Marshal(payload)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = append(r.emits, Emit{ConnID: connID, Event: event, Data: data})
}

func (r *Recorder) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]bool)
	}
	r.rooms[room][connID] = true
}

func (r *Recorder) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[room], connID)
}

// InRoom reports whether connID joined room and has not left.
func (r *Recorder) InRoom(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[room][connID]
}

func (r *Recorder) Emits() []Emit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.emits)
}

// Events returns the emits named event, in order.
func (r *Recorder) Events(event string) []Emit {
	var out []Emit
	for _, e := range r.Emits() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Names lists the event names in emit order.
func (r *Recorder) Names() []string {
	var out []string
	for _, e := range r.Emits() {
		out = append(out, e.Event)
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = nil
}
