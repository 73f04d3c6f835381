package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manuscript/api/internal/auth"
	"manuscript/api/internal/branching"
	"manuscript/api/internal/config"
	"manuscript/api/internal/sections"
	"manuscript/api/internal/store"
)

func useMemoryBackend(t *testing.T) *branching.Service {
	t.Helper()
	versions := branching.NewService(store.NewMemoryStore())
	previous := openBackend
	openBackend = func(context.Context) (*backend, error) {
		return &backend{versions: versions, cfg: config.FromEnv()}, nil
	}
	t.Cleanup(func() {
		openBackend = previous
		jsonOutput = false
		includeArchived = false
		mergeType = store.MergeFastForward
	})
	return versions
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func seed(t *testing.T, versions *branching.Service) (store.Branch, store.Branch) {
	t.Helper()
	ctx := context.Background()
	mainBranch, err := versions.CreateBranch(ctx, branching.CreateBranchInput{DocumentID: "doc-1", BranchName: "main", CreatedBy: "avery"})
	require.NoError(t, err)
	feature, err := versions.CreateBranch(ctx, branching.CreateBranchInput{DocumentID: "doc-1", BranchName: "feature/intro", CreatedBy: "avery"})
	require.NoError(t, err)
	for _, content := range []sections.Content{
		sections.New("intro", "first draft"),
		sections.New("intro", "second draft", "outro", "bye"),
	} {
		_, err := versions.CreateRevision(ctx, branching.CreateRevisionInput{
			BranchID: feature.ID, Content: content, CommitMessage: "edit", CreatedBy: "avery",
		})
		require.NoError(t, err)
	}
	return mainBranch, feature
}

func TestBranchesCommand(t *testing.T) {
	versions := useMemoryBackend(t)
	_, feature := seed(t, versions)

	out, err := runCLI(t, "branches", "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "feature/intro")
	assert.Contains(t, out, feature.ID)

	out, err = runCLI(t, "branches", "doc-1", "--json")
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 2)
}

func TestHistoryAndCompareCommands(t *testing.T) {
	versions := useMemoryBackend(t)
	_, feature := seed(t, versions)

	out, err := runCLI(t, "history", feature.ID)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "r2"), lines[1])

	out, err = runCLI(t, "compare", feature.ID, "1", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "added")
	assert.Contains(t, out, "outro")
	assert.Contains(t, out, "modified")

	_, err = runCLI(t, "compare", feature.ID, "one", "2")
	assert.Error(t, err)
}

func TestMergeCommand(t *testing.T) {
	versions := useMemoryBackend(t)
	mainBranch, feature := seed(t, versions)

	out, err := runCLI(t, "merge", feature.ID, mainBranch.ID, "--as", "sam")
	require.NoError(t, err)
	assert.Contains(t, out, "as r1")

	merged, err := versions.GetBranch(context.Background(), feature.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusMerged, merged.Status)
	assert.Equal(t, "sam", merged.MergedBy)

	_, err = runCLI(t, "merge", feature.ID, mainBranch.ID, "--type", "octopus")
	assert.ErrorIs(t, err, branching.ErrInvalidMerge)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("MANUSCRIPT_JWT_SECRET", "cli-secret")
	t.Cleanup(func() { tokenRole = "author" })

	out, err := runCLI(t, "token", "sam", "--role", "maintainer")
	require.NoError(t, err)

	claims, err := auth.ParseToken([]byte("cli-secret"), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "sam", claims.Sub)
	assert.Equal(t, "maintainer", claims.Role)

	_, err = runCLI(t, "token", "sam", "--role", "owner")
	assert.Error(t, err)
}
