package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Layout(t *testing.T) {
	b, err := NewBuilder("America/Phoenix")
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2026, 1, 2, 10, 4, 5, 0, time.UTC) }

	got := b.Build("Role text", []string{"Role: Role text", "Ann: hi there"}, "hi there")

	want := "Current Time (Phoenix): 2026-01-02 03:04:05 MST\n\n" +
		"Role text\n\n" +
		"Chat History:\nRole: Role text\nAnn: hi there\n\n" +
		"User Message:\nhi there"
	assert.Equal(t, want, got)
}

func TestNewBuilder_BadZone(t *testing.T) {
	_, err := NewBuilder("Nowhere/Special")
	assert.Error(t, err)
}

func TestCityLabel(t *testing.T) {
	assert.Equal(t, "Los Angeles", cityLabel("America/Los_Angeles"))
	assert.Equal(t, "UTC", cityLabel("UTC"))
}
