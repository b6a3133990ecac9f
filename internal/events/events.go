// Package events implements the structured event sink (spec §4.11). The
// core never formats strings for user consumption; it emits typed events
// with attributes, and a Sink implementation decides how to render them.
// The default Sink is backed by logrus, matching the teacher's structured
// logging convention throughout core/.
package events

import (
	"github.com/sirupsen/logrus"
)

// Kind tags an event's type.
type Kind uint8

const (
	KindBlockConnected Kind = iota
	KindBlockRejected
	KindChainReorganized
	KindMempoolAdmitted
	KindMempoolEvicted
	KindReorgAborted
	KindSecurityViolation
)

func (k Kind) String() string {
	switch k {
	case KindBlockConnected:
		return "block_connected"
	case KindBlockRejected:
		return "block_rejected"
	case KindChainReorganized:
		return "chain_reorganized"
	case KindMempoolAdmitted:
		return "mempool_admitted"
	case KindMempoolEvicted:
		return "mempool_evicted"
	case KindReorgAborted:
		return "reorg_aborted"
	case KindSecurityViolation:
		return "security_violation"
	default:
		return "unknown"
	}
}

// Event is a typed occurrence plus its structured attributes.
type Event struct {
	Kind       Kind
	Attributes map[string]interface{}
}

// Sink is the abstract destination for chain and mempool events. The core
// depends only on this interface; an implementation is free to map events
// to files, structured logs, or a remote pipeline.
type Sink interface {
	Emit(event Event)
	EmitSecurity(kind string, attributes map[string]interface{})
}

// LogrusSink is the default Sink, emitting every event as a structured
// logrus entry.
type LogrusSink struct {
	logger *logrus.Logger
}

// NewLogrusSink wraps an existing logrus logger (or the standard logger, if
// nil) as a Sink.
func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{logger: logger}
}

// Emit logs a structured entry for a non-security event.
func (s *LogrusSink) Emit(event Event) {
	s.logger.WithFields(logrus.Fields(event.Attributes)).Info(event.Kind.String())
}

// EmitSecurity logs a structured entry at warning level for a security
// violation, tagged with its specific kind (e.g. path escape, storage
// corruption).
func (s *LogrusSink) EmitSecurity(kind string, attributes map[string]interface{}) {
	fields := logrus.Fields(attributes)
	fields["violation_kind"] = kind
	s.logger.WithFields(fields).Warn(KindSecurityViolation.String())
}
