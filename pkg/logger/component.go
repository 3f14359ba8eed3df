package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ComponentLogger logs key/value records tagged with a component name.
// It resolves the package logger on every call, so loggers created before Init still write.
type ComponentLogger struct {
	fields logrus.Fields
}

// WithComponent returns a logger tagged with component
func WithComponent(component string) *ComponentLogger {
	return &ComponentLogger{fields: logrus.Fields{"component": component}}
}

// With returns a child logger carrying additional key/value pairs
func (c *ComponentLogger) With(keyvals ...any) *ComponentLogger {
	fields := make(logrus.Fields, len(c.fields)+len(keyvals)/2)
	for k, v := range c.fields {
		fields[k] = v
	}
	addPairs(fields, keyvals)
	return &ComponentLogger{fields: fields}
}

func (c *ComponentLogger) Debug(msg string, keyvals ...any) {
	c.entry(keyvals).Debug(msg)
}

func (c *ComponentLogger) Info(msg string, keyvals ...any) {
	c.entry(keyvals).Info(msg)
}

func (c *ComponentLogger) Warn(msg string, keyvals ...any) {
	c.entry(keyvals).Warn(msg)
}

func (c *ComponentLogger) Error(msg string, keyvals ...any) {
	c.entry(keyvals).Error(msg)
}

func (c *ComponentLogger) entry(keyvals []any) *logrus.Entry {
	fields := make(logrus.Fields, len(c.fields)+len(keyvals)/2)
	for k, v := range c.fields {
		fields[k] = v
	}
	addPairs(fields, keyvals)
	return current().base.WithFields(fields)
}

func addPairs(fields logrus.Fields, keyvals []any) {
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			fields["!BADKEY"] = key
			break
		}
		fields[key] = keyvals[i+1]
	}
}
