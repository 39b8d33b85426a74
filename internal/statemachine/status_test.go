package statemachine_test

import (
	"testing"

	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanTransition_Graph 测试合法转换图
func TestCanTransition_Graph(t *testing.T) {
	legal := map[statemachine.Status][]statemachine.Status{
		"queued":     {"generating", "cancelled"},
		"generating": {"generated", "failed", "cancelled"},
		"generated":  {"in_review", "approved", "rejected", "cancelled"},
		"in_review":  {"approved", "rejected", "cancelled"},
		"approved":   {"scheduled", "publishing", "cancelled"},
		"rejected":   {"queued", "cancelled"},
		"scheduled":  {"publishing", "cancelled"},
		"publishing": {"published", "failed"},
		"failed":     {"queued", "cancelled"},
	}

	count := 0
	for _, from := range statemachine.All() {
		for _, to := range statemachine.All() {
			want := false
			for _, s := range legal[from] {
				if s == to {
					want = true
				}
			}
			if want {
				count++
			}
			assert.Equal(t, want, statemachine.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.Equal(t, 23, count)
}

// TestCanTransition_UnknownStates 测试未知状态
func TestCanTransition_UnknownStates(t *testing.T) {
	assert.False(t, statemachine.CanTransition("bogus", statemachine.StatusQueued))
	assert.False(t, statemachine.CanTransition(statemachine.StatusQueued, "bogus"))
	assert.False(t, statemachine.CanTransition(statemachine.StatusApproved, statemachine.StatusGenerating))
}

// TestTerminalStates 测试终态
func TestTerminalStates(t *testing.T) {
	for _, s := range statemachine.All() {
		want := s == statemachine.StatusPublished || s == statemachine.StatusCancelled
		assert.Equal(t, want, s.IsTerminal(), string(s))
		if want {
			assert.Empty(t, statemachine.NextStates(s))
		}
	}
}

// TestStatusClassification 测试状态分类
func TestStatusClassification(t *testing.T) {
	assert.True(t, statemachine.StatusFailed.IsRetryable())
	assert.True(t, statemachine.StatusRejected.IsRetryable())
	assert.False(t, statemachine.StatusGenerated.IsRetryable())

	assert.True(t, statemachine.StatusQueued.IsActive())
	assert.True(t, statemachine.StatusGenerating.IsActive())
	assert.False(t, statemachine.StatusGenerated.IsActive())

	for _, s := range []statemachine.Status{"generated", "failed", "published", "cancelled"} {
		assert.True(t, s.IsTerminalForViewing(), string(s))
	}
	assert.False(t, statemachine.StatusInReview.IsTerminalForViewing())

	assert.False(t, statemachine.StatusGenerating.HasContent())
	assert.True(t, statemachine.StatusFailed.HasContent())
	assert.False(t, statemachine.Status("bogus").HasContent())
}

// TestParse 测试状态解析
func TestParse(t *testing.T) {
	s, err := statemachine.Parse(" In_Review ")
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusInReview, s)

	_, err = statemachine.Parse("draft")
	assert.Error(t, err)
	_, err = statemachine.Parse("")
	assert.Error(t, err)
}

// TestMetadataFor 测试元数据是全函数
func TestMetadataFor(t *testing.T) {
	for _, s := range statemachine.All() {
		m := statemachine.MetadataFor(string(s))
		assert.NotEqual(t, "Unknown", m.Label, string(s))
		assert.NotEmpty(t, m.Color)
		assert.NotEmpty(t, m.Icon)
		assert.NotEmpty(t, m.Description)
		assert.Equal(t, string(s), m.Status)
	}

	for _, raw := range []string{"", "DRAFT", "legacy_pending", "queued "} {
		m := statemachine.MetadataFor(raw)
		assert.Equal(t, "Unknown", m.Label)
		assert.Equal(t, raw, m.Status)
	}
}

// TestAll_ReturnsCopy 测试 All 返回副本
func TestAll_ReturnsCopy(t *testing.T) {
	states := statemachine.All()
	require.Len(t, states, 11)
	states[0] = "mutated"
	assert.Equal(t, statemachine.StatusQueued, statemachine.All()[0])
}
