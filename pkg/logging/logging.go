package logging

import (
	"fmt"
	"time"

	"github.com/postqode/agentdeploy/pkg/deployment"
	log "github.com/sirupsen/logrus"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

type Options struct {
	Level  string
	Format string
	// Fields are attached to every entry that does not set them itself.
	Fields log.Fields
}

func formatter(format string) (log.Formatter, error) {
	switch format {
	case FormatJSON:
		return &log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap:        log.FieldMap{log.FieldKeyMsg: "message"},
		}, nil
	case FormatText:
		return &log.TextFormatter{
			FullTimestamp:    true,
			QuoteEmptyFields: true,
		}, nil
	}
	return nil, fmt.Errorf("log format '%s' is not recognized", format)
}

// Setup configures the global logrus logger.
func Setup(opts Options) error {
	f, err := formatter(opts.Format)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		return fmt.Errorf("while setting log level: %s", err)
	}

	log.SetFormatter(f)
	log.SetLevel(level)
	log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	if len(opts.Fields) > 0 {
		log.AddHook(defaultFields(opts.Fields))
	}

	return nil
}

type defaultFields log.Fields

func (d defaultFields) Levels() []log.Level {
	return log.AllLevels
}

func (d defaultFields) Fire(entry *log.Entry) error {
	for k, v := range d {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// Deployment returns an entry tagged with the fields that identify a deployment.
func Deployment(record *deployment.Record) *log.Entry {
	return log.WithFields(log.Fields{
		"deployment_id": record.ID,
		"platform":      record.Platform,
		"license_id":    record.LicenseID,
		"environment":   record.EnvironmentName,
	})
}
