package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/studycore/internal/allocation"
	"github.com/at-ishikawa/studycore/internal/generation"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name      string
		debugMode bool
		wantLevel slog.Level
	}{
		{
			name:      "debug mode enabled",
			debugMode: true,
			wantLevel: slog.LevelDebug,
		},
		{
			name:      "debug mode disabled",
			debugMode: false,
			wantLevel: slog.LevelInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupLogger(tt.debugMode)
			logger := slog.Default()
			assert.NotNil(t, logger)
			assert.Equal(t, tt.wantLevel <= slog.LevelDebug, logger.Enabled(context.Background(), slog.LevelDebug))
		})
	}
}

func TestNewRootCommand(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "item", "job", "worker"}, names)

	job, _, err := root.Find([]string{"job"})
	require.NoError(t, err)
	var jobNames []string
	for _, cmd := range job.Commands() {
		jobNames = append(jobNames, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"create", "advance", "run", "cancel", "progress", "watch"}, jobNames)
}

func TestParseTopics(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    []allocation.TopicWeight
		wantErr bool
	}{
		{
			name:   "name only",
			values: []string{"algebra"},
			want:   []allocation.TopicWeight{{Name: "algebra", Weight: 1}},
		},
		{
			name:   "weight and sub-topics",
			values: []string{"algebra=2.5:linear, quadratic", "geometry=1"},
			want: []allocation.TopicWeight{
				{Name: "algebra", Weight: 2.5, Subtopics: []allocation.SubtopicWeight{{Name: "linear", Weight: 1}, {Name: "quadratic", Weight: 1}}},
				{Name: "geometry", Weight: 1},
			},
		},
		{
			name:    "invalid weight",
			values:  []string{"algebra=heavy"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTopics(tt.values)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopicsValue(t *testing.T) {
	cmd := newJobCreateCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--topic", "algebra=2", "--topic", "geometry:circles"}))

	flag := cmd.Flags().Lookup("topic")
	require.NotNil(t, flag)
	assert.Equal(t, "[algebra,geometry]", flag.Value.String())
	assert.Equal(t, "topic", flag.Value.Type())

	err := cmd.ParseFlags([]string{"--topic", "algebra=x"})
	assert.ErrorContains(t, err, `invalid weight "x"`)
}

type scriptedAdvancer struct {
	results []generation.Progress
	calls   int
}

func (s *scriptedAdvancer) Advance(_ context.Context, _, _ string) (generation.Progress, error) {
	if s.calls >= len(s.results) {
		return generation.Progress{}, fmt.Errorf("%w: job-1", generation.ErrJobNotActive)
	}
	p := s.results[s.calls]
	s.calls++
	return p, nil
}

func TestRunJob(t *testing.T) {
	advancer := &scriptedAdvancer{results: []generation.Progress{
		{CompletedCount: 1, TotalCount: 3, ItemID: "a"},
		{CompletedCount: 1, FailedCount: 1, TotalCount: 3, Error: true, ErrorMessage: "rate limited"},
		{CompletedCount: 2, FailedCount: 1, TotalCount: 3, ItemID: "b", Done: true, CollectionID: "col-1"},
	}}
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, runJob(context.Background(), cmd, advancer, "job-1"))
	assert.Equal(t, 3, advancer.calls)
	assert.Contains(t, out.String(), "[1/3] completed, 0 failed")
	assert.Contains(t, out.String(), "task failed: rate limited")
	assert.Contains(t, out.String(), "done, collection col-1")
}

func TestRunJob_StopsOnError(t *testing.T) {
	advancer := &scriptedAdvancer{}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	err := runJob(context.Background(), cmd, advancer, "job-1")
	assert.ErrorIs(t, err, generation.ErrJobNotActive)
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
  auto_migrate: true
`, filepath.Join(dir, "studycore.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute(), out.String())
	return out.String()
}

func TestItemCommands(t *testing.T) {
	configPath := writeTestConfig(t)

	out := execute(t, "--config", configPath, "--owner", "alice", "item", "add", "--front", "2+2", "--back", "4", "--topic", "arithmetic")
	assert.Contains(t, out, "front: 2+2")
	id := regexp.MustCompile(`(?m)^(\S+)$`).FindStringSubmatch(out)
	require.Len(t, id, 2)

	importPath := filepath.Join(t.TempDir(), "items.yaml")
	require.NoError(t, os.WriteFile(importPath, []byte(`topic: capitals
items:
  - front: France
    back: Paris
  - front: Japan
    back: Tokyo
`), 0o600))
	out = execute(t, "--config", configPath, "--owner", "alice", "item", "import", importPath)
	assert.Contains(t, out, "imported 2 item(s)")

	out = execute(t, "--config", configPath, "--owner", "alice", "item", "due")
	assert.Contains(t, out, "front: Japan")

	out = execute(t, "--config", configPath, "--owner", "alice", "item", "preview", id[1])
	assert.Contains(t, out, "again")

	out = execute(t, "--config", configPath, "--owner", "alice", "item", "rate", id[1], "3")
	assert.Contains(t, out, "interval 1 day")

	out = execute(t, "--config", configPath, "--owner", "alice", "item", "stats")
	assert.Contains(t, out, "3 items")

	out = execute(t, "--config", configPath, "--owner", "bob", "item", "due")
	assert.Contains(t, out, "nothing is due")
}
