package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStringMap_ScanValue(t *testing.T) {
	m := StringMap{"a": "1"}
	v, err := m.Value()
	require.NoError(t, err)

	var out StringMap
	require.NoError(t, out.Scan(v))
	assert.Equal(t, m, out)

	require.NoError(t, out.Scan(`{"b":"2"}`))
	assert.Equal(t, StringMap{"b": "2"}, out)

	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)

	assert.Error(t, out.Scan(42))
}

func TestStringList_ScanValue(t *testing.T) {
	var nilList StringList
	v, err := nilList.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var out StringList
	require.NoError(t, out.Scan([]byte(`["echo","hi"]`)))
	assert.Equal(t, StringList{"echo", "hi"}, out)
}

func TestDuration_Unmarshal(t *testing.T) {
	var req ProfileRequest
	require.NoError(t, json.Unmarshal([]byte(`{"command":["true"],"timeout":"1m30s"}`), &req))
	assert.Equal(t, 90*time.Second, time.Duration(req.Timeout))

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":2.5}`), &req))
	assert.Equal(t, 2500*time.Millisecond, time.Duration(req.Timeout))

	assert.Error(t, json.Unmarshal([]byte(`{"timeout":"soon"}`), &req))

	var yreq ProfileRequest
	require.NoError(t, yaml.Unmarshal([]byte("line: ls\ntimeout: 3\n"), &yreq))
	assert.Equal(t, 3*time.Second, time.Duration(yreq.Timeout))
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 250ms\n"), &yreq))
	assert.Equal(t, 250*time.Millisecond, time.Duration(yreq.Timeout))

	out, err := json.Marshal(Duration(time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"1s"`, string(out))
}

func TestProfileRequest_RunnerCommand(t *testing.T) {
	req := ProfileRequest{
		Command:    []string{"go", "version"},
		Dir:        "/tmp",
		Env:        map[string]string{"A": "b"},
		Timeout:    Duration(time.Second),
		Check:      true,
		SampleRate: 10,
	}
	cmd := req.RunnerCommand()
	assert.Equal(t, []string{"go", "version"}, cmd.Args)
	assert.Equal(t, "/tmp", cmd.Dir)
	assert.Equal(t, time.Second, cmd.Timeout)
	assert.True(t, cmd.Check)
	assert.Equal(t, 10.0, cmd.SampleRate)
	assert.Equal(t, "go version", req.DisplayCommand())
}

func TestProfile_BeforeCreate(t *testing.T) {
	p := &Profile{}
	require.NoError(t, p.BeforeCreate(nil))
	assert.NotEqual(t, uuid.Nil, p.ID)

	id := uuid.New()
	p = &Profile{ID: id, DurationMs: 1500}
	require.NoError(t, p.BeforeCreate(nil))
	assert.Equal(t, id, p.ID)
	assert.Equal(t, 1500*time.Millisecond, p.Duration())
}

func TestSchedule_IsEnabled(t *testing.T) {
	off := false
	assert.True(t, Schedule{}.IsEnabled())
	assert.False(t, Schedule{Enabled: &off}.IsEnabled())
}
