package queue

// AbortedError is returned by Pop, WaitAtBarrier and CheckAborted once any
// worker on the same side has called Abort. It signals propagation of a failure that
// originated elsewhere, not a new root cause.
type AbortedError struct{}

func (e *AbortedError) Error() string {
	return "sync aborted by a sibling worker"
}
