package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from TaskStatus
		to   TaskStatus
		ok   bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestProcessingConfigValidate(t *testing.T) {
	valid := ProcessingConfig{Modes: []ProcessingMode{ModeText, ModeKVP}}
	assert.NoError(t, valid.Validate())
	assert.True(t, valid.HasMode(ModeKVP))
	assert.False(t, valid.HasMode(ModeAnon))

	assert.Error(t, ProcessingConfig{}.Validate())
	assert.Error(t, ProcessingConfig{Modes: []ProcessingMode{"ocr"}}.Validate())
}

func TestProcessingConfigRoundTrip(t *testing.T) {
	cfg := ProcessingConfig{
		Modes:      []ProcessingMode{ModeKVP, ModeAnon},
		KVPFields:  []string{"invoice_number", "total"},
		AnonFields: []string{"patient_name"},
	}

	val, err := cfg.Value()
	require.NoError(t, err)

	var decoded ProcessingConfig
	require.NoError(t, decoded.Scan(val))
	assert.Equal(t, cfg, decoded)
}

func TestJSONMapScanNil(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan(nil))
	assert.NotNil(t, m)
	assert.Empty(t, m)
}

func TestPermissionEffective(t *testing.T) {
	now := time.Now()
	hour := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	active := EditPermission{IsActive: true}
	assert.True(t, active.Effective(now))

	expiring := EditPermission{IsActive: true, ExpiresAt: &hour}
	assert.True(t, expiring.Effective(now))
	assert.False(t, expiring.Effective(hour.Add(time.Second)))

	expired := EditPermission{IsActive: true, ExpiresAt: &past}
	assert.False(t, expired.Effective(now))

	revoked := EditPermission{IsActive: false, ExpiresAt: &hour}
	assert.False(t, revoked.Effective(now))
}

func TestVersionInline(t *testing.T) {
	inline := DocumentVersion{Content: []byte("<html></html>")}
	assert.True(t, inline.Inline())

	offloaded := DocumentVersion{ObjectKey: "versions/t1/3"}
	assert.False(t, offloaded.Inline())
}
