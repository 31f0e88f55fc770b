package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// ServiceName - значение поля service в каждой записи
const ServiceName = "emergency-response"

// New создает JSON-логгер с заданным уровнем и выводом в stdout
func New(logLevel string) *logrus.Logger {
	return NewWithOutput(logLevel, os.Stdout)
}

// NewWithOutput создает JSON-логгер, пишущий в out
func NewWithOutput(logLevel string, out io.Writer) *logrus.Logger {
	log := logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	log.SetOutput(out)

	// Уровень логирования
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel // Уровень по умолчанию, если передан некорректный
	}
	log.SetLevel(level)
	return log
}

// ForComponent возвращает запись с полями service и component
func ForComponent(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"service":   ServiceName,
		"component": component,
	})
}
