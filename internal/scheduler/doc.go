// Package scheduler is the reminder delivery engine.
//
// A cron trigger runs a scan cycle every interval. Each cycle loads every
// active reminder, evaluates it against its owner's zone and, when due,
// hands a notification to the dispatcher. Recurring reminders are then moved
// forward with a conditional update on the old due value. One-shot reminders
// are stamped with delivered_at and get an independent grace timer; the
// first of user confirmation or timer expiry completes them, arbitrated by
// the store's conditional update. A delivered reminder whose grace expired
// while the process was down is completed by the next scan.
package scheduler
