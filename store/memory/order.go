package memory

import (
	"sort"
	"time"

	"github.com/xraph/spool/job"
)

// sortJobs orders jobs the way ListJobs reports them for status: waiting in
// claim order, delayed by DelayUntil, everything else most recent first.
func sortJobs(jobs []*job.Job, status job.Status) {
	switch status {
	case job.StatusWaiting:
		sort.Slice(jobs, func(i, k int) bool { return jobs[i].Before(jobs[k]) })
	case job.StatusDelayed:
		sort.Slice(jobs, func(i, k int) bool {
			a, b := deref(jobs[i].DelayUntil), deref(jobs[k].DelayUntil)
			if !a.Equal(b) {
				return a.Before(b)
			}
			return jobs[i].Before(jobs[k])
		})
	case job.StatusActive:
		sort.Slice(jobs, func(i, k int) bool {
			return deref(jobs[i].StartedAt).After(deref(jobs[k].StartedAt))
		})
	default:
		sort.Slice(jobs, func(i, k int) bool {
			return deref(jobs[i].FinishedAt).After(deref(jobs[k].FinishedAt))
		})
	}
}

// window returns the inclusive index range [start, end] of jobs. A negative
// end selects through the last element.
func window(jobs []*job.Job, start, end int) []*job.Job {
	if start < 0 {
		start = 0
	}
	if start >= len(jobs) {
		return []*job.Job{}
	}
	if end < 0 || end >= len(jobs) {
		end = len(jobs) - 1
	}
	if end < start {
		return []*job.Job{}
	}
	return jobs[start : end+1]
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
