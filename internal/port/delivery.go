package port

// ArtifactSink turns a completed job's encoded video payload into a
// locally saved file. The engine guarantees at most one call per job id
// within a session.
type ArtifactSink interface {
	Deliver(jobID, payload string) (path string, err error)
}
