package events

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// auditedEvents are the events an operator needs to reconstruct who served
// what and why. Health polls and budget ticks are left to the metrics sink.
var auditedEvents = map[string]bool{
	SpawnStart:          true,
	SpawnReady:          true,
	SpawnTimeout:        true,
	SpawnExit:           true,
	SpawnStop:           true,
	StateChange:         true,
	BackendRegistered:   true,
	BackendDeregistered: true,
	LoadFailed:          true,
	RouteDecision:       true,
	RouteRejected:       true,
	DispatchOK:          true,
	DispatchError:       true,
}

// AuditPublisher appends lifecycle, routing and dispatch events as JSON lines.
type AuditPublisher struct {
	logger *zap.Logger
}

// NewAuditPublisher writes JSON audit records to path ("stdout" and
// "stderr" are accepted).
func NewAuditPublisher(path string) (*AuditPublisher, error) {
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding:         "json",
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			MessageKey:     "event",
			LevelKey:       zapcore.OmitKey,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
		},
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("audit log %s: %w", path, err)
	}
	return &AuditPublisher{logger: logger}, nil
}

// NewAuditPublisherWithLogger wraps an existing zap logger.
func NewAuditPublisherWithLogger(l *zap.Logger) *AuditPublisher {
	return &AuditPublisher{logger: l}
}

func (p *AuditPublisher) Publish(e Event) {
	if !auditedEvents[e.Name] {
		return
	}
	fields := make([]zap.Field, 0, len(e.Fields)+2)
	fields = append(fields, zap.String("backend", e.BackendID), zap.Time("at", e.Time))
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, e.Fields[k]))
	}
	p.logger.Info(e.Name, fields...)
}

// Close flushes buffered records.
func (p *AuditPublisher) Close() error {
	return p.logger.Sync()
}
