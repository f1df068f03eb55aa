package config

import (
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"profiler/pkg/errs"
	"profiler/pkg/models"
)

// CronParser accepts standard five-field expressions and descriptors such
// as @hourly.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type scheduleFile struct {
	Schedules []models.Schedule `yaml:"schedules"`
}

// LoadSchedules reads and validates a YAML schedule file.
//
//	schedules:
//	  - name: nightly-build
//	    cron: "0 2 * * *"
//	    request:
//	      line: make build
//	      timeout: 10m
func LoadSchedules(path string) ([]models.Schedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "failed to read schedules file", err).
			With(errs.KeyConfigKey, "SCHEDULES_FILE")
	}
	return ParseSchedules(raw)
}

// ParseSchedules decodes and validates schedule YAML.
func ParseSchedules(raw []byte) ([]models.Schedule, error) {
	var file scheduleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "invalid schedules file", err).
			With(errs.KeyConfigKey, "SCHEDULES_FILE")
	}

	seen := make(map[string]bool, len(file.Schedules))
	for i, s := range file.Schedules {
		key := "schedules[" + strconv.Itoa(i) + "]"
		if s.Name == "" {
			return nil, errs.NewConfigurationError("schedule has no name", key)
		}
		if seen[s.Name] {
			return nil, errs.NewConfigurationError("duplicate schedule "+strconv.Quote(s.Name), key)
		}
		seen[s.Name] = true

		if _, err := CronParser.Parse(s.Cron); err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "invalid cron expression", err).
				With(errs.KeyConfigKey, key+".cron").
				With(errs.KeyComponent, s.Name)
		}
		if len(s.Request.Command) == 0 && s.Request.Line == "" {
			return nil, errs.NewConfigurationError("schedule has no command", key+".request")
		}
		if s.Request.Name == "" {
			file.Schedules[i].Request.Name = s.Name
		}
	}
	return file.Schedules, nil
}
