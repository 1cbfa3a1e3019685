// Package schedule runs the periodic jobs of the notifier (aged proposal
// escalation, batch spool pickup) on a robfig/cron scheduler.
//
// A job never overlaps itself: a trigger that fires while the previous run
// is still busy is skipped and logged.
package schedule
