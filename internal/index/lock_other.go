//go:build !unix

package index

// lock is a no-op where flock is unavailable; appends are single writes.
func lock(string) (func(), error) {
	return func() {}, nil
}
