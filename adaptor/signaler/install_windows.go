package signaler

// checkRelayDir is a no-op on Windows, where the relay script is never run.
func checkRelayDir(string) error { return nil }
