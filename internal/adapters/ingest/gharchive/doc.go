// Package gharchive reads GH Archive hourly gzip files and lists the entities active in them
//
// Design choices:
// - Stream with bufio.Scanner but with a 32MB cap to reliably handle huge push events.
// - Decode only the envelope (type, actor, repo); payloads are never parsed.
// - Malformed lines are skipped, a missing hour is a NotFound error.
package gharchive
