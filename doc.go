// Package remindx runs reminder passes as background jobs on asynq and keeps
// an audit trail of every pass in the journal.
//
// Wiring:
//  1. Open a SQL DB, create journal.NewSQLStore(db) and call Migrate.
//  2. Create a Processor with NewProcessor(redis, store, engine, ...) and Start it.
//  3. Create a Client with NewClient(redis, store, ...); EnqueuePass queues a pass.
//  4. A Scheduler enqueues passes on cron specs; the webhook enqueues manual ones.
package remindx
