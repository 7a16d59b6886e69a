// Package envutil prepares the environment tool CLIs are spawned with.
// Launchers such as a desktop host often start the gateway with a minimal
// PATH that misses per-user and package-manager binary directories.
package envutil

import "strings"

const pathKey = "PATH"

// lookup returns the last value of key in env. Windows keys compare
// case-insensitively, so "Path" matches PATH.
func lookup(env []string, key, goos string) string {
	var value string
	for _, entry := range env {
		name, v, ok := strings.Cut(entry, "=")
		if ok && keyEqual(name, key, goos) {
			value = v
		}
	}
	return value
}

// set replaces every entry for key with a single key=value at the end.
// An existing entry's spelling of key is kept.
func set(env []string, key, value, goos string) []string {
	name := key
	out := make([]string, 0, len(env)+1)
	for _, entry := range env {
		existing, _, ok := strings.Cut(entry, "=")
		if ok && keyEqual(existing, key, goos) {
			name = existing
			continue
		}
		out = append(out, entry)
	}
	return append(out, name+"="+value)
}

func keyEqual(a, b, goos string) bool {
	if goos == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
