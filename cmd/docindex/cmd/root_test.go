package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/searchindex"
	"github.com/Aman-CERP/docindex/internal/source"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

// testEnv is a docs directory, an index directory and a config file using
// the offline embedder and the local backend.
type testEnv struct {
	docs   string
	config string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	docs := filepath.Join(root, "docs")

	files := map[string]string{
		"handbook/leave.md":  "Employees receive twenty five days of paid vacation leave each year.\n",
		"finance/report.md":  "Quarterly revenue grew while operating expenses stayed flat.\n",
		"public/faq.txt":     "The office opens at nine and the cafeteria serves lunch daily.\n",
		"handbook/notes.bin": "ignored extension\n",
	}
	for rel, content := range files {
		path := filepath.Join(docs, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	cfg := fmt.Sprintf(`embeddings:
  provider: static
  dimensions: 64
index:
  backend: local
  name: test-index
  data_dir: %q
source:
  dir: %q
  group_map:
    "handbook/": [HR]
    "finance/": [finance]
    "public/": [public]
retry:
  max_retries: 1
  initial_delay: 1ms
  max_delay: 1ms
logging:
  level: error
`, filepath.Join(root, "index"), docs)
	cfgPath := filepath.Join(root, "docindex.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	return testEnv{docs: docs, config: cfgPath}
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func (e testEnv) search(t *testing.T, args ...string) []resultJSON {
	t.Helper()
	out, err := e.run(t, append([]string{"search", "--format", "json"}, args...)...)
	require.NoError(t, err, out)
	var results []resultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	return results
}

func titles(results []resultJSON) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Title)
	}
	return out
}

func TestIngestThenSearch(t *testing.T) {
	// Given: three eligible documents in three groups
	env := newTestEnv(t)

	// When: ingesting
	out, err := env.run(t, "ingest", "--format", "json")
	require.NoError(t, err, out)

	// Then: every document succeeded with one record each
	var sum ingest.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Len(t, sum.Succeeded, 3)
	assert.Empty(t, sum.Failed)
	assert.Equal(t, 3, sum.Records)
	assert.NotEmpty(t, sum.RunID)

	t.Run("unfiltered search sees every record", func(t *testing.T) {
		results := env.search(t, "vacation", "--top", "10")
		assert.ElementsMatch(t,
			[]string{"handbook/leave.md", "finance/report.md", "public/faq.txt"},
			titles(results))
	})

	t.Run("group filter adds the public group", func(t *testing.T) {
		results := env.search(t, "paid vacation leave", "--group", "HR", "--top", "10")
		require.Len(t, results, 2)
		assert.Equal(t, "handbook/leave.md", results[0].Title)
		assert.Equal(t, "public/faq.txt", results[1].Title)
		assert.Equal(t, []string{"HR"}, results[0].GroupIDs)
		assert.Equal(t, "1", results[0].ChunkID)
	})

	t.Run("empty group list sees only public records", func(t *testing.T) {
		results := env.search(t, "anything", "--group", "")
		assert.Equal(t, []string{"public/faq.txt"}, titles(results))
	})

	t.Run("top limits results", func(t *testing.T) {
		results := env.search(t, "revenue", "--top", "1")
		require.Len(t, results, 1)
		assert.Equal(t, "finance/report.md", results[0].Title)
	})

	t.Run("text output", func(t *testing.T) {
		out, err := env.run(t, "search", "paid vacation leave", "--group", "HR", "--top", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "1 results for \"paid vacation leave\"")
		assert.Contains(t, out, "handbook/leave.md (chunk 1)")
		assert.Contains(t, out, "twenty five days")
	})
}

func TestIngest_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "ingest")
	require.NoError(t, err)
	out, err := env.run(t, "ingest", "--format", "json")
	require.NoError(t, err)

	var sum ingest.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 3, sum.Records)
	assert.Len(t, env.search(t, "office", "--top", "10"), 3)
}

func TestIngest_TextSummary(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "ingest")

	require.NoError(t, err)
	assert.Contains(t, out, "Ingest summary")
	assert.Contains(t, out, "records: 3")
	assert.Contains(t, out, "3 documents indexed")
}

func TestIngest_UnusableIndexDir(t *testing.T) {
	// Given: a regular file where the index directory should be
	env := newTestEnv(t)
	blocker := filepath.Join(filepath.Dir(env.config), "index")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	// When: ingesting
	_, err := env.run(t, "ingest")

	// Then: the run stops before any document is read
	assert.Equal(t, dierrors.ErrCodeFilePermission, dierrors.GetCode(err))
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "ingest")
	require.NoError(t, err)

	out, err := env.run(t, "delete", "--document", "handbook/leave.md")

	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 records of 1 documents")
	assert.NotContains(t, titles(env.search(t, "vacation", "--top", "10")), "handbook/leave.md")
}

func TestDeleteRecordIDs(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "ingest")
	require.NoError(t, err)
	id := source.DocumentID("finance/report.md") + "-1"

	out, err := env.run(t, "delete", id, "missing-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 records")
	assert.ElementsMatch(t,
		[]string{"handbook/leave.md", "public/faq.txt"},
		titles(env.search(t, "revenue", "--top", "10")))
}

func TestPurge(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "ingest")
	require.NoError(t, err)

	t.Run("requires confirmation", func(t *testing.T) {
		_, err := env.run(t, "purge")
		assert.Equal(t, dierrors.ErrCodeInvalidInput, dierrors.GetCode(err))
	})

	t.Run("deletes every record", func(t *testing.T) {
		out, err := env.run(t, "purge", "--yes")
		require.NoError(t, err)
		assert.Contains(t, out, "Purged 3 records from \"test-index\"")
		assert.Empty(t, env.search(t, "office"))
	})
}

func TestSchema(t *testing.T) {
	env := newTestEnv(t)

	t.Run("print", func(t *testing.T) {
		out, err := env.run(t, "schema", "--print")
		require.NoError(t, err)

		var schema searchindex.Schema
		require.NoError(t, json.Unmarshal([]byte(out), &schema))
		assert.Equal(t, "test-index", schema.Name)
		assert.Equal(t, 64, schema.VectorDimensions())
		assert.Equal(t, 4, schema.Algorithm.M)
	})

	t.Run("apply twice", func(t *testing.T) {
		for range 2 {
			out, err := env.run(t, "schema")
			require.NoError(t, err)
			assert.Contains(t, out, "Index \"test-index\" is up to date")
			assert.Contains(t, out, "dimensions: 64")
		}
	})
}

func TestSearch_RecordsTelemetry(t *testing.T) {
	// Given: an ingested tree
	env := newTestEnv(t)
	out, err := env.run(t, "ingest")
	require.NoError(t, err, out)

	// When: searching twice
	env.search(t, "vacation leave")
	env.search(t, "vacation")

	// Then: the term counts are persisted next to the index
	store, err := telemetry.OpenSQLiteStore(context.Background(),
		filepath.Join(filepath.Dir(env.config), "index", telemetry.DBFile))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	terms, err := store.GetTopTerms(1)
	require.NoError(t, err)
	assert.Equal(t, []telemetry.TermCount{{Term: "vacation", Count: 2}}, terms)
}

func TestSearch_BeforeSchemaFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "search", "anything")

	assert.Equal(t, dierrors.ErrCodeSchemaMismatch, dierrors.GetCode(err))
}

func TestSearch_RejectsUnknownFormat(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "search", "q", "--format", "xml")

	assert.Equal(t, dierrors.ErrCodeInvalidInput, dierrors.GetCode(err))
}

func TestMissingConfigFile(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "schema"})

	err := cmd.Execute()

	assert.Equal(t, dierrors.ErrCodeConfigNotFound, dierrors.GetCode(err))
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default", []string{"version"}, "docindex dev"},
		{"short", []string{"version", "--short"}, "dev"},
		{"json", []string{"version", "--json"}, `"version": "dev"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Contains(t, strings.TrimSpace(buf.String()), tt.want)
		})
	}
}

func TestRootCmd_HasCommands(t *testing.T) {
	cmd := NewRootCmd()

	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"schema", "ingest", "search", "delete", "purge", "serve", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestProfilingFlags(t *testing.T) {
	// Given: a heap profile path
	path := filepath.Join(t.TempDir(), "heap.prof")
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"--profile-mem", path, "version", "--short"})

	// When: running a command
	require.NoError(t, cmd.Execute())

	// Then: the profile is written after the command
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
