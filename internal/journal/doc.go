// Package journal records run history in SQLite.
//
// Every engine run gets one row in runs and one row per terminal step
// result in step_results, written live as the run progresses through a
// Recorder attached to the engine as a hook.
//
// The journal is observability, never control flow: planning and execution
// decide everything from checksum records on disk, and a journal write
// failure degrades to a logged warning. Dropping the database file loses
// history and nothing else.
package journal
