package logger

// Logger provides structured logging with context
type Logger interface {
	Info(component, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
	Warning(component, message string, fields map[string]interface{})
	Debug(component, message string, fields map[string]interface{})
}

type nop struct{}

func (nop) Info(string, string, map[string]interface{})    {}
func (nop) Error(string, error, map[string]interface{})    {}
func (nop) Warning(string, string, map[string]interface{}) {}
func (nop) Debug(string, string, map[string]interface{})   {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nop{}
}

// OrNop returns log, or a discarding Logger when log is nil.
func OrNop(log Logger) Logger {
	if log == nil {
		return nop{}
	}
	return log
}
