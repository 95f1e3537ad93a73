package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusAdapter emits JSON lines, for batch runs whose output is collected
// by another tool.
type LogrusAdapter struct {
	logger *logrus.Logger
}

func NewLogrusJSON(writer io.Writer, level string) *LogrusAdapter {
	logger := logrus.New()
	logger.SetOutput(writer)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return &LogrusAdapter{logger: logger}
}

func (l *LogrusAdapter) entry(component string, fields map[string]interface{}) *logrus.Entry {
	entry := l.logger.WithField("component", component)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	return entry
}

func (l *LogrusAdapter) Info(component, message string, fields map[string]interface{}) {
	l.entry(component, fields).Info(message)
}

func (l *LogrusAdapter) Error(component string, err error, fields map[string]interface{}) {
	l.entry(component, fields).WithError(err).Error("operation failed")
}

func (l *LogrusAdapter) Warning(component, message string, fields map[string]interface{}) {
	l.entry(component, fields).Warn(message)
}

func (l *LogrusAdapter) Debug(component, message string, fields map[string]interface{}) {
	l.entry(component, fields).Debug(message)
}
