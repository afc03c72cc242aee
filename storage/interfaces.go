package storage

import (
	"context"
	"time"
)

// Artifact is one serialized run output plus the metadata sinks attach to it.
type Artifact struct {
	Name        string
	Body        []byte
	RecordCount int
	RunID       string
	CityID      string
	DataType    string
	Source      string
	CreatedAt   time.Time
}

// Sink is the interface any delivery backend must satisfy. Upload stores the
// artifact under its Name.
type Sink interface {
	Upload(ctx context.Context, a Artifact) error
	Close() error
}

// NoopSink keeps the artifact local only.
type NoopSink struct{}

func (NoopSink) Upload(context.Context, Artifact) error { return nil }
func (NoopSink) Close() error                          { return nil }
