package mesh

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectNode_FiltersByRequiredLabels(t *testing.T) {
	candidates := []Candidate{
		{Node: "local", Labels: []string{"linux", "amd64"}},
		{Node: "gpu-box", Labels: []string{"linux", "amd64", "gpu"}},
	}
	var tried []string
	run := func(ctx context.Context, node string) error {
		tried = append(tried, node)
		return nil
	}

	result, err := SelectNode(context.Background(), "train", []string{"gpu"}, candidates, StrategyAny, "local", run)
	require.NoError(t, err)
	assert.Equal(t, "gpu-box", result.Node)
	assert.Equal(t, []string{"gpu-box"}, tried, "only the gpu-labeled candidate should have been tried")
}

func TestSelectNode_LocalFirstThenTriesNext(t *testing.T) {
	candidates := []Candidate{
		{Node: "remote-1", Labels: []string{"linux"}},
		{Node: "local", Labels: []string{"linux"}},
	}
	var tried []string
	run := func(ctx context.Context, node string) error {
		tried = append(tried, node)
		if node == "local" {
			return errors.New("docker daemon unreachable")
		}
		return nil
	}

	result, err := SelectNode(context.Background(), "build", nil, candidates, StrategyAny, "local", run)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", result.Node)
	assert.Equal(t, "local", tried[0], "local node should be tried first under strategy any")
}

func TestSelectNode_AllFailReturnsPlacementErrorWithHints(t *testing.T) {
	candidates := []Candidate{{Node: "local", Labels: []string{"linux"}}}
	run := func(ctx context.Context, node string) error {
		return errors.New("docker: cannot connect to the Docker daemon")
	}

	_, err := SelectNode(context.Background(), "build", nil, candidates, StrategyAny, "local", run)
	require.Error(t, err)
	var placementErr *PlacementError
	require.ErrorAs(t, err, &placementErr)
	assert.Len(t, placementErr.Failures, 1)
	assert.NotEmpty(t, placementErr.Hints)
}

func TestSelectNode_EmptyFilterResultHintsAtLabels(t *testing.T) {
	candidates := []Candidate{{Node: "local", Labels: []string{"linux"}}}
	run := func(ctx context.Context, node string) error { return nil }

	_, err := SelectNode(context.Background(), "build", []string{"gpu"}, candidates, StrategyAny, "local", run)
	require.Error(t, err)
	var placementErr *PlacementError
	require.ErrorAs(t, err, &placementErr)
	assert.Contains(t, placementErr.Error(), "required labels")
}
