package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"h2-telemetry-gateway/internal/config"
	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/logging"
)

const capture = `
{"mqtt_data":{"topic_id":"P1","data":{"barr":"0,0,0,0,0,0,0,0,0","gdet":0,"fdet":0}}}
{"mqtt_data":{"topic_id":"P1","data":{"barr":"1200,0,0,0,0,0,0,0,0","last_update_time":"2024-05-01 12:00:00"}}}
{"mqtt_data":{"topic_id":"P1","data":{"barr":"1,2,3"}}}
not json

{"mqtt_data":{"topic_id":"P1","data":{"barr":"1300,0,0,0,0,0,0,0,0"}}}
`

func TestReplay(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	c, err := newCore(cfg, logging.Discard())
	require.NoError(t, err)

	report, err := replay(context.Background(), c, strings.NewReader(capture), logging.Discard())
	require.NoError(t, err)

	require.EqualValues(t, 3, report.Stats.Accepted)
	require.EqualValues(t, 1, report.Stats.Discarded["decode"])
	require.EqualValues(t, 1, report.Stats.Discarded["malformed"])

	require.Len(t, report.Facilities, 1)
	require.Equal(t, data.StatusDanger, report.Facilities[0].VibrationStatus)
	require.Equal(t, data.StatusNormal, report.Facilities[0].GasStatus)

	// Staying in danger does not log a second alarm.
	require.Len(t, report.Alarms, 1)
	require.Equal(t, "1200", report.Alarms[0].TriggeringValue)
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "capture.ndjson")
	require.NoError(t, os.WriteFile(file, []byte(capture), 0o600))

	configDir := dir
	cmd := newReplayCmd(&configDir)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{file})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var report replayReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Alarms, 1)

	cmd = newReplayCmd(&configDir)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{})
	require.Error(t, cmd.Execute())
}
