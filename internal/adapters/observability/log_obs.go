package observability

import (
	"log/slog"

	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// LogObs reports through slog only; metric calls are ignored. It is the
// default for components built without an explicit Observability.
type LogObs struct {
	logger *slog.Logger
}

func NewLogObs(logger *slog.Logger) *LogObs {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObs{logger: logger}
}

func (l *LogObs) LogInfo(msg string, fields ...ports.Field) {
	l.logger.Info(msg, attrs(fields)...)
}

func (l *LogObs) LogError(msg string, err error, fields ...ports.Field) {
	l.logger.Error(msg, append(attrs(fields), slog.Any("error", err))...)
}

func (l *LogObs) LogCritical(msg string, err error, fields ...ports.Field) {
	l.logger.Error(msg, append(attrs(fields), slog.Any("error", err), slog.Bool("critical", true))...)
}

func (l *LogObs) IncCounter(string, float64)     {}
func (l *LogObs) ObserveLatency(string, float64) {}
func (l *LogObs) SetGauge(string, float64)       {}

func (l *LogObs) RecordDropped(reason string, s *domain.Sample, err error) {
	fields := []any{slog.String("reason", reason)}
	if s != nil {
		fields = append(fields, slog.String("key", s.Key), slog.String("name", s.Name))
	}
	if err != nil {
		fields = append(fields, slog.Any("error", err))
	}
	l.logger.Warn("sample_dropped", fields...)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*LogObs)(nil)
