package artifact_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/postqode/agentdeploy/pkg/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
)

func memoryStore() (*artifact.Store, map[string]*memory.Store) {
	repos := make(map[string]*memory.Store)
	store := artifact.NewWithTargets("registry.local:5000/postqode", func(ctx context.Context, repository string) (oras.Target, error) {
		if _, ok := repos[repository]; !ok {
			repos[repository] = memory.New()
		}
		return repos[repository], nil
	})
	return store, repos
}

func TestPushPull(t *testing.T) {
	ctx := context.Background()
	store, repos := memoryStore()

	ref := store.Reference("", "agent-1-edge", "1.0.0")
	assert.Equal(t, "registry.local:5000/postqode/agent-1-edge:1.0.0", ref)

	desc, err := store.Push(ctx, ref, artifact.Blob{
		MediaType:   artifact.MediaTypeEdgePayload,
		Data:        []byte("payload"),
		Annotations: map[string]string{artifact.AnnotationVersion: "1.0.0"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, desc.Digest.String())
	assert.Contains(t, repos, "registry.local:5000/postqode/agent-1-edge")

	data, err := store.Pull(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestPushRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store, _ := memoryStore()

	_, err := store.Push(ctx, "registry.local:5000/postqode/agent", artifact.Blob{Data: []byte("x")})
	assert.Error(t, err)

	_, err = store.Push(ctx, "registry.local/postqode/agent:1", artifact.Blob{})
	assert.Error(t, err)
}

func TestPullUnknownTag(t *testing.T) {
	store, _ := memoryStore()
	_, err := store.Pull(context.Background(), "registry.local/postqode/agent:missing")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := memoryStore()
	ref := store.Reference("", "bundle", "2")
	_, err := store.Push(ctx, ref, artifact.Blob{MediaType: artifact.MediaTypeFunctionBundle, Data: []byte("zip")})
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(local, []byte("local"), 0o600))

	data, err := artifact.Load(ctx, store, local, ref)
	assert.NoError(t, err)
	assert.Equal(t, []byte("local"), data)

	data, err = artifact.Load(ctx, store, filepath.Join(t.TempDir(), "gone.zip"), ref)
	assert.NoError(t, err)
	assert.Equal(t, []byte("zip"), data)

	_, err = artifact.Load(ctx, nil, "", "")
	assert.Error(t, err)
}
