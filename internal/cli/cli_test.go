package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-hazard-pipeline/internal/config"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
	"github.com/tendant/simple-hazard-pipeline/internal/prompt"
)

func testRoot(store *metadata.MemoryStore) *cobra.Command {
	return newRootCommand(&RootOptions{
		LoadConfig: func() (*config.Config, error) {
			return &config.Config{MetadataBackend: config.MetadataMemory}, nil
		},
		OpenStore: func(ctx context.Context, cfg *config.Config) (metadata.Store, func(), error) {
			return store, func() {}, nil
		},
	})
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "hazardctl", cmd.Use)

	for _, path := range [][]string{
		{"run"}, {"trigger"}, {"upload"}, {"runs"}, {"prompt", "import"}, {"prompt", "activate"}, {"prompt", "show"}, {"audit", "latest"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	flag := cmd.PersistentFlags().Lookup("worker-url")
	require.NotNil(t, flag)
	assert.Equal(t, "http://localhost:8081", flag.DefValue)
}

func TestPromptImportAndShow(t *testing.T) {
	store := metadata.NewMemoryStore()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`active: night
prompts:
  night: "Night shift {rekognition_label}"
  day: "Day shift {rekognition_label}"
`), 0o644))

	out, err := execute(t, testRoot(store), "prompt", "import", path)
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []interface{}{"day", "night"}, resp["imported"])
	assert.Equal(t, "night", resp["active"])

	out, err = execute(t, testRoot(store), "prompt", "show")
	require.NoError(t, err)
	assert.Equal(t, "Night shift {rekognition_label}\n", out)

	out, err = execute(t, testRoot(store), "prompt", "show", "day")
	require.NoError(t, err)
	assert.Equal(t, "Day shift {rekognition_label}\n", out)
}

func TestPromptShow_DefaultWithoutWriting(t *testing.T) {
	store := metadata.NewMemoryStore()

	out, err := execute(t, testRoot(store), "prompt", "show")
	require.NoError(t, err)
	assert.Equal(t, prompt.BuiltinDefault(), strings.TrimSuffix(out, "\n"))

	_, err = store.GetActivePromptID(context.Background())
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestPromptActivate(t *testing.T) {
	store := metadata.NewMemoryStore()

	_, err := execute(t, testRoot(store), "prompt", "activate", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not stored")

	require.NoError(t, store.PutPrompt(context.Background(), "night", "text"))
	_, err = execute(t, testRoot(store), "prompt", "activate", "night")
	require.NoError(t, err)

	id, err := store.GetActivePromptID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "night", id)

	_, err = execute(t, testRoot(store), "prompt", "activate", metadata.DefaultPrompt)
	require.NoError(t, err)
}

func TestAuditLatest(t *testing.T) {
	store := metadata.NewMemoryStore()

	_, err := execute(t, testRoot(store), "audit", "latest")
	require.Error(t, err)

	require.NoError(t, store.PutAudit(context.Background(), metadata.AuditRecord{
		ID: metadata.LatestAuditID, Caption: "Worker without helmet", Classification: "1", RiskLevel: "7",
	}))
	out, err := execute(t, testRoot(store), "audit", "latest")
	require.NoError(t, err)
	assert.Contains(t, out, `"caption": "Worker without helmet"`)
	assert.Contains(t, out, `"risk_level": "7"`)
}

func TestTrigger(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path == "/v1/process/async" {
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"run_id":"queued-1"}`))
			return
		}
		w.Write([]byte(`{"run_id":"r1","skipped":false,"outputs":{"risk_level":4}}`))
	}))
	defer srv.Close()

	out, err := execute(t, testRoot(metadata.NewMemoryStore()), "trigger", "--worker-url", srv.URL, "s3://cams/gate.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/v1/process", gotPath)
	assert.Contains(t, out, `"run_id": "r1"`)

	out, err = execute(t, testRoot(metadata.NewMemoryStore()), "trigger", "--async", "--worker-url", srv.URL, "s3://cams/gate.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/v1/process/async", gotPath)
	assert.Contains(t, out, `"run_id": "queued-1"`)

	_, err = execute(t, testRoot(metadata.NewMemoryStore()), "trigger", "cams/gate.jpg")
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	var paths []string
	var gotQuery, gotProcessKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/v1/content":
			gotQuery = r.URL.RawQuery
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"bucket":"uploads","key":"c1","uri":"s3://uploads/c1"}`))
		case "/v1/process":
			var req map[string]interface{}
			json.NewDecoder(r.Body).Decode(&req)
			gotProcessKey, _ = req["key"].(string)
			w.Write([]byte(`{"run_id":"r9","skipped":false}`))
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "gate.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xe0}, 0o644))

	out, err := execute(t, testRoot(metadata.NewMemoryStore()), "upload", "--worker-url", srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, "bucket=uploads&key=gate.jpg", gotQuery)
	assert.Contains(t, out, `"key": "c1"`)

	out, err = execute(t, testRoot(metadata.NewMemoryStore()), "upload", "--process", "--worker-url", srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/v1/content", "/v1/content", "/v1/process"}, paths)
	assert.Equal(t, "c1", gotProcessKey, "processes the key the worker assigned")
	assert.Contains(t, out, `"run_id": "r9"`)
}

func TestRuns(t *testing.T) {
	var gotPath, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotLimit = r.URL.Path, r.URL.Query().Get("limit")
		if r.URL.Path == "/v1/runs" {
			w.Write([]byte(`{"runs":[{"run_id":"hazard_assessment-a.jpg-1","state":"succeeded"}]}`))
			return
		}
		w.Write([]byte(`{"run_id":"hazard_assessment-a.jpg-1","state":"pending"}`))
	}))
	defer srv.Close()

	out, err := execute(t, testRoot(metadata.NewMemoryStore()), "runs", "--limit", "3", "--worker-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "/v1/runs", gotPath)
	assert.Equal(t, "3", gotLimit)
	assert.Contains(t, out, `"state": "succeeded"`)

	out, err = execute(t, testRoot(metadata.NewMemoryStore()), "runs", "--worker-url", srv.URL, "hazard_assessment-a.jpg-1")
	require.NoError(t, err)
	assert.Equal(t, "/v1/runs/hazard_assessment-a.jpg-1", gotPath)
	assert.Contains(t, out, `"state": "pending"`)
}
