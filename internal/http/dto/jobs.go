package dto

import "time"

type MusicSyncRequest struct {
	Target string `json:"target"`
}

type JobResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Attempt  int       `json:"attempt"`
	RunAt    time.Time `json:"run_at"`
	RepeatOf string    `json:"repeat_of,omitempty"`
}

type RepeatResponse struct {
	Key      string    `json:"key"`
	Name     string    `json:"name"`
	Cron     string    `json:"cron"`
	Timezone string    `json:"timezone"`
	Next     time.Time `json:"next"`
}

type JobStatsResponse struct {
	Waiting   int64            `json:"waiting"`
	Delayed   int64            `json:"delayed"`
	Active    int64            `json:"active"`
	Completed int64            `json:"completed"`
	Failed    int64            `json:"failed"`
	Repeats   []RepeatResponse `json:"repeats"`
}
