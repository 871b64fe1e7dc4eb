package handler_test

import (
	"context"

	"hecticradio.app/live/internal/broadcast"
	"hecticradio.app/live/internal/hub"
	"hecticradio.app/live/internal/model"
	"hecticradio.app/live/internal/musicsync"
	"hecticradio.app/live/internal/queue"
)

type published struct {
	Method  string
	Target  string
	Event   string
	Payload any
}

type mockPublisher struct {
	calls []published
}

func (m *mockPublisher) NowPlaying(_ context.Context, track broadcast.NowPlaying) {
	m.calls = append(m.calls, published{Method: "NowPlaying", Payload: track})
}

func (m *mockPublisher) SystemMessage(_ context.Context, text string) {
	m.calls = append(m.calls, published{Method: "SystemMessage", Payload: text})
}

func (m *mockPublisher) NotifyUser(_ context.Context, userID string, payload any) {
	m.calls = append(m.calls, published{Method: "NotifyUser", Target: userID, Payload: payload})
}

func (m *mockPublisher) NotifyAdmins(_ context.Context, payload any) {
	m.calls = append(m.calls, published{Method: "NotifyAdmins", Payload: payload})
}

func (m *mockPublisher) ToRoom(_ context.Context, room, event string, payload any) {
	m.calls = append(m.calls, published{Method: "ToRoom", Target: room, Event: event, Payload: payload})
}

type mockSyncEnqueuer struct {
	enqueueFn func(ctx context.Context, target musicsync.Target) (*queue.Job, error)
}

func (m *mockSyncEnqueuer) Enqueue(ctx context.Context, target musicsync.Target) (*queue.Job, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, target)
	}
	return &queue.Job{ID: "job_1", Name: musicsync.TaskName, State: queue.StateWaiting}, nil
}

type mockJobStats struct {
	statsFn   func(ctx context.Context) (queue.Stats, error)
	repeatsFn func(ctx context.Context) ([]queue.Repeat, error)
}

func (m *mockJobStats) Stats(ctx context.Context) (queue.Stats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return queue.Stats{}, nil
}

func (m *mockJobStats) Repeats(ctx context.Context) ([]queue.Repeat, error) {
	if m.repeatsFn != nil {
		return m.repeatsFn(ctx)
	}
	return nil, nil
}

type mockContentCounter struct {
	countsFn func(ctx context.Context) (model.ContentCounts, error)
}

func (m *mockContentCounter) Counts(ctx context.Context) (model.ContentCounts, error) {
	if m.countsFn != nil {
		return m.countsFn(ctx)
	}
	return model.ContentCounts{}, nil
}

type mockPresence struct {
	update hub.PresenceUpdate
}

func (m *mockPresence) Presence() hub.PresenceUpdate {
	return m.update
}

type fixedCounter struct{ count, peak int }

func (c fixedCounter) Count() int { return c.count }
func (c fixedCounter) Peak() int  { return c.peak }
