// Package history persists a ledger of finalized recordings and the
// submission attempts made for them in SQLite.
//
// The ledger is owned by the daemon; the recording session controller keeps
// no history of its own.
package history
