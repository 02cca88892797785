package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--version"}, &stdout, &stderr)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "dev")
}

func TestRun_MissingConfigFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}, &stdout, &stderr)

	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr.String(), "configuration error")
}

func TestRun_UnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitConfig, run(context.Background(), []string{"--bogus"}, &stdout, &stderr))
}

func TestRun_InvalidRubricIsConfigError(t *testing.T) {
	dir := t.TempDir()
	rubricPath := filepath.Join(dir, "rubric.json")
	require.NoError(t, os.WriteFile(rubricPath, []byte(`{"criteria":[{"id":"c1"}]}`), 0o644))

	cfgPath := writeConfig(t, dir, rubricPath, "http://127.0.0.1:1", "http://127.0.0.1:1")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitConfig, run(context.Background(), []string{"--config", cfgPath}, &stdout, &stderr))
}

func writeConfig(t *testing.T, dir, rubricPath, canvasURL, llmURL string) string {
	t.Helper()

	cfg := fmt.Sprintf(`rubric_path: %s
output_dir: %s
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: sk-test
  base_url: %s
canvas:
  base_url: %s
  api_token: tok
  course_id: 1
  assignment_id: 2
limits:
  workers: 2
log:
  level: error
store:
  driver: sqlite
`, rubricPath, filepath.Join(dir, "out"), llmURL, canvasURL)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	var canvasURL string
	canvasSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses/1/assignments/2":
			w.Write([]byte(`{"id": 2, "name": "Essay 1"}`))
		case "/api/v1/courses/1/assignments/2/submissions":
			fmt.Fprintf(w, `[
				{"id": 1, "user_id": 11, "user": {"name": "Ann Lee"},
				 "attachments": [{"url": "%s/files/1", "filename": "essay.txt"}]},
				{"id": 2, "user_id": 22, "user": {"name": "Bo"}, "attachments": []}
			]`, canvasURL)
		case "/files/1":
			w.Write([]byte("The essay body."))
		default:
			http.NotFound(w, r)
		}
	}))
	defer canvasSrv.Close()
	canvasURL = canvasSrv.URL

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"summary":"Clear.","criteria":[{"id":"c1","score":6,"comment":"strong"},{"id":"c2","score":3}]}`
		body, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	defer llmSrv.Close()

	dir := t.TempDir()
	rubricPath := filepath.Join(dir, "rubric.yaml")
	require.NoError(t, os.WriteFile(rubricPath, []byte(`title: Essay
criteria:
  - id: c1
    name: Thesis
    max_points: 5
  - id: c2
    name: Evidence
    max_points: 10
`), 0o644))
	cfgPath := writeConfig(t, dir, rubricPath, canvasSrv.URL, llmSrv.URL)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", cfgPath}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "listed 2, graded 1, skipped 1")

	out := filepath.Join(dir, "out")
	grades := readCSV(t, filepath.Join(out, "grades.csv"))
	require.Len(t, grades, 2)
	reportPath := filepath.Join(out, "submission_1", "report.md")
	assert.Equal(t, []string{"1", "11", "Ann Lee", "8", "15", reportPath}, grades[1])

	skipped := readCSV(t, filepath.Join(out, "skipped.csv"))
	require.Len(t, skipped, 2)
	assert.Equal(t, "2", skipped[1][0])
	assert.Equal(t, "attachments", skipped[1][3])

	body, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "# Essay 1: grading report"))
	assert.Contains(t, string(body), "| Thesis | 5 | 5 | strong |")

	assert.FileExists(t, filepath.Join(out, "history.db"))

	runID := strings.TrimSuffix(strings.Fields(stdout.String())[1], ":")

	var runOut, runErr bytes.Buffer
	code = run(context.Background(), []string{"history", "--config", cfgPath, "--run", runID}, &runOut, &runErr)
	require.Equal(t, exitOK, code, runErr.String())
	assert.Contains(t, runOut.String(), "run "+runID+" (sqlite)")
	assert.Contains(t, runOut.String(), "assignment: Essay 1 (course 1, assignment 2)")
	assert.Contains(t, runOut.String(), "listed 2, graded 1, skipped 1")
	assert.NotContains(t, runOut.String(), "in progress")
	assert.Contains(t, runOut.String(), "8 / 15")
	assert.Contains(t, runOut.String(), "no attachments")

	var subOut, subErr bytes.Buffer
	code = run(context.Background(), []string{"history", "--config", cfgPath, "--submission", "1"}, &subOut, &subErr)
	require.Equal(t, exitOK, code, subErr.String())
	assert.Contains(t, subOut.String(), "Ann Lee")
	assert.Contains(t, subOut.String(), reportPath)

	var missOut, missErr bytes.Buffer
	code = run(context.Background(), []string{"history", "--config", cfgPath, "--submission", "404"}, &missOut, &missErr)
	assert.Equal(t, exitError, code)
	assert.Contains(t, missErr.String(), "not found")
}

func TestRunHistory_FlagErrors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, filepath.Join(dir, "rubric.yaml"), "http://127.0.0.1:1", "http://127.0.0.1:1")

	tests := []struct {
		name string
		args []string
	}{
		{"neither run nor submission", []string{"history", "--config", cfgPath}},
		{"both run and submission", []string{"history", "--config", cfgPath, "--run", "x", "--submission", "1"}},
		{"malformed run id", []string{"history", "--config", cfgPath, "--run", "not-a-uuid"}},
		{"unknown flag", []string{"history", "--bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, exitConfig, run(context.Background(), tt.args, &stdout, &stderr))
			assert.Empty(t, stdout.String())
		})
	}
}

func TestRunHistory_StoreDisabledIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: out\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"history", "--config", path, "--submission", "1"}, &stdout, &stderr)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr.String(), "store.driver")
}

func TestRunHistory_UnknownRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("output_dir: %s\nlog:\n  level: error\nstore:\n  driver: sqlite\n", filepath.Join(dir, "out"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0o755))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"history", "--config", path, "--run", "7b0c1f5e-2f7a-4a51-9d8e-0f2b7c6d9a10"}, &stdout, &stderr)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "not found")
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
