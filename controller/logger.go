package controller

import "github.com/distcodep7/dsgate/trace"

type Logger interface {
	Printf(format string, v ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Printf(format string, v ...interface{}) {}

// Recorder receives every trace event the controller produces.
// *trace.Store satisfies it.
type Recorder interface {
	Append(ev trace.Event) error
}
