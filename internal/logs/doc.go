// Package logs tails the daemon log file for `livecheck logs`.
//
// Reads are bounded: Last keeps a ring of the final N lines and ReadNew only
// returns complete lines past a cursor. Follow polls the file until its
// context ends, and it restarts from the top when the daemon rotates
// livecheck.log onto a new file.
package logs
