package main

import (
	"strings"

	"github.com/goatkit/ticketsync/internal/config"
	"github.com/goatkit/ticketsync/internal/services/scheduler"
)

// scheduleOff disables a built-in job.
const scheduleOff = "off"

func buildSchedulerJobsFromConfig(cfg *config.Config) []*scheduler.Job {
	if cfg == nil {
		return scheduler.DefaultJobs("", "")
	}
	jobs := scheduler.DefaultJobs(cfg.Resync.Schedule, cfg.Resync.UnreadSchedule)
	if isOff(cfg.Resync.Schedule) {
		jobs = filterJobsBySlug(jobs, "tickets-resync")
	}
	if isOff(cfg.Resync.UnreadSchedule) {
		jobs = filterJobsBySlug(jobs, "unread-reconcile")
	}
	return jobs
}

func isOff(spec string) bool {
	return strings.EqualFold(strings.TrimSpace(spec), scheduleOff)
}

func filterJobsBySlug(jobs []*scheduler.Job, slug string) []*scheduler.Job {
	if slug == "" || len(jobs) == 0 {
		return jobs
	}
	filtered := make([]*scheduler.Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil || job.Slug == slug {
			continue
		}
		filtered = append(filtered, job)
	}
	return filtered
}
