package domain

type SourceStatus string

const (
	// SourceReady means the last probe matched the recorded validators.
	SourceReady SourceStatus = "ready"
	// SourceChanged means the remote resource no longer matches what was registered.
	SourceChanged SourceStatus = "changed"
	SourceError   SourceStatus = "error"
)
