package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func snapshotDoc(features FeatureStatuses) *Document {
	return &Document{ID: primitive.NewObjectID(), Features: features}
}

func TestBuildSnapshotAllCompleted(t *testing.T) {
	snap := BuildSnapshot(snapshotDoc(FeatureStatuses{
		Embedding:  FeatureCompleted,
		Summary:    FeatureCompleted,
		References: FeatureCompleted,
		Skimming:   FeatureCompleted,
	}))

	assert.True(t, snap.AllReady)
	assert.ElementsMatch(t,
		[]string{FeatureEmbedding, FeatureSummary, FeatureReferences, FeatureSkimming},
		snap.AvailableFeatures)
}

func TestBuildSnapshotSkippedCountsAsSettled(t *testing.T) {
	snap := BuildSnapshot(snapshotDoc(FeatureStatuses{
		Embedding:  FeatureCompleted,
		Summary:    FeatureSkipped,
		References: FeatureCompleted,
		Skimming:   FeatureCompleted,
	}))

	// A skipped feature never becomes available, but it does not hold
	// the document back from being ready.
	assert.True(t, snap.AllReady)
	assert.NotContains(t, snap.AvailableFeatures, FeatureSummary)
	assert.Contains(t, snap.AvailableFeatures, FeatureEmbedding)
}

func TestBuildSnapshotPendingBlocksReady(t *testing.T) {
	snap := BuildSnapshot(snapshotDoc(FeatureStatuses{
		Embedding:  FeatureCompleted,
		Summary:    FeatureCompleted,
		References: FeatureRunning,
		Skimming:   FeaturePending,
	}))

	assert.False(t, snap.AllReady)
	assert.ElementsMatch(t, []string{FeatureEmbedding, FeatureSummary}, snap.AvailableFeatures)
}

func TestBuildSnapshotFreshDocument(t *testing.T) {
	snap := BuildSnapshot(snapshotDoc(NewFeatureStatuses()))

	assert.False(t, snap.AllReady)
	assert.Empty(t, snap.AvailableFeatures)
	assert.NotNil(t, snap.AvailableFeatures)
	assert.Equal(t, FeaturePending, snap.EmbeddingStatus)
}
