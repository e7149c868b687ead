package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminal-data/luminal/internal/pipeline"
	"github.com/luminal-data/luminal/pkg/config"
	"github.com/luminal-data/luminal/pkg/identity"
	"github.com/luminal-data/luminal/pkg/observability"
	"github.com/luminal-data/luminal/pkg/profile"
	"github.com/luminal-data/luminal/pkg/segment"
)

func testProviders() observability.Providers {
	return observability.Providers{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	return cfg
}

const fixtureNDJSON = `{"eventId":"1","ts":"2024-03-01T10:00:00Z","type":"IDENTIFY","userId":"u","traits":{"plan":"pro"}}
{"eventId":"2","ts":"2024-03-01T10:00:01Z","type":"TRACK","userId":"u","name":"Feature Used"}
not json at all
{"eventId":"3","ts":"2024-03-01T10:00:02Z","type":"IDENTIFY","email":"U@Example.com","userId":"u"}
`

func TestExecuteRunReplay(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	summary, err := executeRun(
		context.Background(),
		defaultConfig(t),
		strings.NewReader(fixtureNDJSON),
		&out,
		testProviders(),
		nil,
		false,
	)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), summary.Stream.Decoded)
	assert.Equal(t, uint64(1), summary.Stream.Malformed)
	assert.Equal(t, uint64(3), summary.Stats.Processed)
	assert.Equal(t, 1, summary.Profiles)
	assert.GreaterOrEqual(t, summary.Transitions, uint64(1))

	assert.Contains(t, out.String(), segment.SegmentProPlan)
	assert.Contains(t, out.String(), string(segment.ActionEnter))
}

func TestExecuteRunLive(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	input := fmt.Sprintf(
		"{\"eventId\":\"a\",\"ts\":%q,\"type\":\"IDENTIFY\",\"userId\":\"u\"}\n"+
			"{\"eventId\":\"b\",\"ts\":%q,\"type\":\"TRACK\",\"userId\":\"u\",\"name\":\"Page View\"}\n",
		now, now)

	var out bytes.Buffer

	summary, err := executeRun(
		context.Background(),
		defaultConfig(t),
		strings.NewReader(input),
		&out,
		testProviders(),
		nil,
		true,
	)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), summary.Stream.Decoded)
	assert.Equal(t, uint64(2), summary.Stats.Processed)
	assert.Equal(t, 1, summary.Profiles)
	assert.Zero(t, summary.Rejected)
}

func TestPipelineConfigMapping(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Engine.WindowSize = 7 * time.Second
	cfg.Segments.PowerUserThreshold = 9
	cfg.Counter.BucketSize = 2 * time.Minute

	pcfg := pipelineConfig(cfg)

	assert.Equal(t, 7*time.Second, pcfg.Processor.WindowSize)
	assert.Equal(t, uint64(9), pcfg.Segments.PowerUserThreshold)
	assert.Equal(t, 2*time.Minute, pcfg.Counter.BucketSize)
	assert.Equal(t, cfg.Engine.SubscriberBuf, pcfg.SubscriberBuf)
}

func TestRenderProfiles(t *testing.T) {
	color.NoColor = true //nolint:reassign // deterministic output for assertions

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	summaries := []pipeline.ProfileSummary{
		{
			Profile: profile.Snapshot{
				ProfileID: identity.Identifier("user:u"),
				Identifiers: profile.Identifiers{
					UserIDs: []string{"u"},
					Emails:  []string{"u@example.com"},
				},
				Traits:   map[string]profile.Trait{"plan": {Value: "pro", UpdatedAt: now}},
				LastSeen: now.Add(-time.Hour),
				Segments: map[string]struct{}{segment.SegmentProPlan: {}},
			},
			FeatureUsedCount: 3,
		},
	}

	var out bytes.Buffer

	renderProfiles(&out, summaries, now)

	rendered := out.String()
	assert.Contains(t, rendered, "user:u")
	assert.Contains(t, rendered, "u@example.com")
	assert.Contains(t, rendered, "pro_plan")
	assert.Contains(t, rendered, "1 hour ago")
	assert.Contains(t, rendered, "Total: 1 profiles")
}

func TestWriteProfilesFormats(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	summaries := []pipeline.ProfileSummary{
		{
			Profile: profile.Snapshot{
				ProfileID:   identity.Identifier("user:u"),
				Identifiers: profile.Identifiers{UserIDs: []string{"u"}},
				Segments:    map[string]struct{}{segment.SegmentPowerUser: {}},
				LastSeen:    now,
			},
			FeatureUsedCount: 5,
		},
	}

	var jsonOut bytes.Buffer

	require.NoError(t, writeProfiles(&jsonOut, "json", summaries, now))
	assert.Contains(t, jsonOut.String(), `"profileId": "user:u"`)
	assert.Contains(t, jsonOut.String(), `"featureUsedCount": 5`)

	var yamlOut bytes.Buffer

	require.NoError(t, writeProfiles(&yamlOut, "yaml", summaries, now))
	assert.Contains(t, yamlOut.String(), "profile_id: user:u")
	assert.Contains(t, yamlOut.String(), "power_user")

	err := writeProfiles(io.Discard, "xml", summaries, now)
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestCommandFlags(t *testing.T) {
	t.Parallel()

	runCmd := NewRunCommand()
	assert.NotNil(t, runCmd.Flags().Lookup("input"))
	assert.NotNil(t, runCmd.Flags().Lookup("config"))
	assert.NotNil(t, runCmd.Flags().Lookup("live"))

	profilesCmd := NewProfilesCommand()
	assert.NotNil(t, profilesCmd.Flags().Lookup("top"))
	assert.NotNil(t, profilesCmd.Flags().Lookup("no-color"))
}
