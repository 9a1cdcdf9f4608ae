package service

import (
	"io"

	"github.com/sirupsen/logrus"
)

// componentLogger tags log with the component name. A nil logger discards output.
func componentLogger(log logrus.FieldLogger, component string) logrus.FieldLogger {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return log.WithField("component", component)
}
