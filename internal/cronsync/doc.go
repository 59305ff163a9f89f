// Package cronsync reconciles the managed job registry against an external
// scheduler's native entries.
//
// Managed jobs are mirrored into the scheduler under ids derived from the
// job id ("nanobot:<job-id>"), so the mapping is recoverable in both
// directions and never creates duplicates. Entries without the prefix are
// foreign: the synchronizer lists around them and never mutates them.
//
// Upsert is idempotent: it creates a missing entry, updates a diverged one,
// and does nothing when the entry already matches. Reconcile applies Upsert
// to every managed job on a periodic tick; a single job's failure is logged
// and skipped without aborting the batch.
//
// When an entry fires (on schedule or via Trigger), the job's payload is
// executed through the configured Runner and the job's last-triggered time
// is recorded. The gateway's runner processes the payload through the
// agent bridge into the job's "cron:<job-id>" session.
package cronsync
