package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

// Field names carrying the correlation ids on a log entry.
const (
	FieldTraceID = "trace_id"
	FieldSpanID  = "span_id"
)

const lineTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Decorate sets the trace and span id fields of entry from sc. When sc is
// not valid the fields are removed, so an uncorrelated record carries no
// ids at all rather than zero values.
func Decorate(entry *logrus.Entry, sc trace.SpanContext) *logrus.Entry {
	if entry.Data == nil {
		entry.Data = logrus.Fields{}
	}
	if !sc.IsValid() {
		delete(entry.Data, FieldTraceID)
		delete(entry.Data, FieldSpanID)
		return entry
	}
	entry.Data[FieldTraceID] = sc.TraceID().String()
	entry.Data[FieldSpanID] = sc.SpanID().String()
	return entry
}

// CorrelationHook decorates every entry with the span active in the
// entry's context at the moment it is emitted.
//
// Usage:
//
//	logger.WithContext(ctx).Info("work completed")
type CorrelationHook struct{}

// Levels implements logrus.Hook.
func (CorrelationHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (CorrelationHook) Fire(entry *logrus.Entry) error {
	Decorate(entry, trace.SpanContextFromContext(entryContext(entry)))
	return nil
}

// ExportHook forwards entries to an OpenTelemetry logger. The SDK attaches
// the trace and span ids from the entry context.
type ExportHook struct {
	logger otellog.Logger
}

// NewExportHook returns a hook emitting to logger.
func NewExportHook(logger otellog.Logger) *ExportHook {
	return &ExportHook{logger: logger}
}

// Levels implements logrus.Hook.
func (h *ExportHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *ExportHook) Fire(entry *logrus.Entry) error {
	var rec otellog.Record
	rec.SetTimestamp(entry.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetSeverity(severity(entry.Level))
	rec.SetSeverityText(strings.ToUpper(entry.Level.String()))
	rec.SetBody(otellog.StringValue(entry.Message))

	for k, v := range entry.Data {
		if k == FieldTraceID || k == FieldSpanID {
			continue
		}
		rec.AddAttributes(logKeyValue(k, v))
	}

	h.logger.Emit(entryContext(entry), rec)
	return nil
}

func entryContext(entry *logrus.Entry) context.Context {
	if entry.Context == nil {
		return context.Background()
	}
	return entry.Context
}

func severity(level logrus.Level) otellog.Severity {
	switch level {
	case logrus.TraceLevel:
		return otellog.SeverityTrace
	case logrus.DebugLevel:
		return otellog.SeverityDebug
	case logrus.InfoLevel:
		return otellog.SeverityInfo
	case logrus.WarnLevel:
		return otellog.SeverityWarn
	case logrus.ErrorLevel:
		return otellog.SeverityError
	case logrus.FatalLevel:
		return otellog.SeverityFatal
	case logrus.PanicLevel:
		return otellog.SeverityFatal4
	default:
		return otellog.SeverityUndefined
	}
}

func logKeyValue(key string, value any) otellog.KeyValue {
	switch v := value.(type) {
	case string:
		return otellog.String(key, v)
	case bool:
		return otellog.Bool(key, v)
	case int:
		return otellog.Int(key, v)
	case int64:
		return otellog.Int64(key, v)
	case float64:
		return otellog.Float64(key, v)
	case error:
		return otellog.String(key, v.Error())
	default:
		return otellog.String(key, fmt.Sprint(v))
	}
}

// LineFormatter writes one human-readable line per entry:
//
//	2024-05-01T10:00:00.000Z [INFO] trace_id=4bf9... span_id=00f0... message key=value
//
// Missing ids are written as "none".
type LineFormatter struct {
	// TimestampFormat defaults to millisecond RFC3339.
	TimestampFormat string
}

// Format implements logrus.Formatter.
func (f *LineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = lineTimestampFormat
	}

	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s [%s] %s=%s %s=%s %s",
		entry.Time.Format(tsFormat),
		strings.ToUpper(entry.Level.String()),
		FieldTraceID, fieldOrNone(entry.Data, FieldTraceID),
		FieldSpanID, fieldOrNone(entry.Data, FieldSpanID),
		entry.Message,
	)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == FieldTraceID || k == FieldSpanID {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatValue(entry.Data[k]))
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func fieldOrNone(data logrus.Fields, key string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return "none"
}

func formatValue(v any) string {
	var s string
	switch val := v.(type) {
	case error:
		s = val.Error()
	case string:
		s = val
	default:
		s = fmt.Sprint(val)
	}
	if strings.ContainsAny(s, " =\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func newFormatter(format LogFormat) logrus.Formatter {
	if format == LogFormatJSON {
		return &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	}
	return &LineFormatter{}
}

// newLoggers builds the process logger, which exports every entry, and
// the diagnostic logger, which only writes locally. Export failures go to
// the latter so they cannot loop back into the log exporter.
func newLoggers(cfg Config, out io.Writer, exportTo otellog.Logger) (*logrus.Logger, *logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if out == nil {
		out = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(newFormatter(cfg.LogFormat))
	logger.SetLevel(level)
	logger.AddHook(CorrelationHook{})
	logger.AddHook(NewExportHook(exportTo))

	diagnostics := logrus.New()
	diagnostics.SetOutput(out)
	diagnostics.SetFormatter(newFormatter(cfg.LogFormat))
	diagnostics.SetLevel(level)
	diagnostics.AddHook(CorrelationHook{})

	return logger, diagnostics, nil
}
