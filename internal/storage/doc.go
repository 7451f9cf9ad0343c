// Package storage persists job fire history.
//
// Armed timers are never persisted; on restart they are rebuilt from config.
// What survives is the record of past fires (when, for which occurrence,
// outcome), used for snapshots and the "last run" column of the CLI.
package storage
