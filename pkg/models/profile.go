package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"profiler/pkg/executor/runner"
)

// ProfileStatus is the outcome of a profiling run.
type ProfileStatus string

const (
	ProfileSuccess ProfileStatus = "SUCCESS" // exit code 0
	ProfileFailed  ProfileStatus = "FAILED"  // ran, non-zero exit
	ProfileTimeout ProfileStatus = "TIMEOUT" // killed after its timeout
	ProfileError   ProfileStatus = "ERROR"   // never ran or was cancelled
)

// JSONB structures need to implement Scanner/Valuer for GORM

// StringMap is a string map persisted as jsonb.
type StringMap map[string]string

func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(raw, m)
}

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// StringList is a string slice persisted as jsonb.
type StringList []string

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(raw, l)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Duration accepts "1m30s" style strings or a number of seconds in JSON
// and YAML.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" || node.Tag == "!!float" {
		secs, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return err
		}
		return d.set(secs)
	}
	return d.set(node.Value)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		if v == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// ProfileRequest asks for one profiling run.
type ProfileRequest struct {
	Name       string            `json:"name" yaml:"name"`
	Command    []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Line       string            `json:"line,omitempty" yaml:"line,omitempty"`
	Shell      bool              `json:"shell" yaml:"shell"`
	Dir        string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout    Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Check      bool              `json:"check" yaml:"check"`
	SampleRate float64           `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	Labels     map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// RunnerCommand converts the request into a runner command.
func (r ProfileRequest) RunnerCommand() runner.Command {
	return runner.Command{
		Args:       r.Command,
		Line:       r.Line,
		Shell:      r.Shell,
		Dir:        r.Dir,
		Env:        r.Env,
		Timeout:    time.Duration(r.Timeout),
		Check:      r.Check,
		SampleRate: r.SampleRate,
	}
}

// DisplayCommand renders the requested command.
func (r ProfileRequest) DisplayCommand() string {
	return r.RunnerCommand().String()
}

// Profile is the persisted record of one profiling run.
type Profile struct {
	ID          uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string        `json:"name" gorm:"index"`
	Command     StringList    `json:"command" gorm:"type:jsonb"`
	Dir         string        `json:"cwd"`
	Env         StringMap     `json:"env,omitempty" gorm:"type:jsonb"`
	Labels      StringMap     `json:"labels,omitempty" gorm:"type:jsonb"`
	Status      ProfileStatus `json:"status" gorm:"type:varchar(20);index"`
	ExitCode    int           `json:"exit_code"`
	DurationMs  int64         `json:"duration_ms"`
	CPUTimeMs   int64         `json:"cpu_time_ms"`
	PeakRSS     uint64        `json:"peak_rss_bytes"`
	Samples     int           `json:"samples"`
	OutputURI   string        `json:"output_uri,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty" gorm:"type:varchar(40)"`
	Error       string        `json:"error,omitempty"`
	NodeID      string        `json:"node_id,omitempty"`
	StartedAt   time.Time     `json:"started_at" gorm:"index"`
	CompletedAt time.Time     `json:"completed_at"`
	CreatedAt   time.Time     `json:"created_at"`
}

// BeforeCreate hook to generate UUID if not present
func (p *Profile) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

// Duration returns the wall time of the run.
func (p *Profile) Duration() time.Duration {
	return time.Duration(p.DurationMs) * time.Millisecond
}

// Schedule runs a profiling request on a cron expression.
type Schedule struct {
	Name    string         `json:"name" yaml:"name"`
	Cron    string         `json:"cron" yaml:"cron"`
	Request ProfileRequest `json:"request" yaml:"request"`
	Enabled *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled defaults to true when Enabled is unset.
func (s Schedule) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}
