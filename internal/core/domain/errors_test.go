package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("open: %w", ErrArtifactUnreadable), KindArtifactUnreadable},
		{ErrUnsupportedArtifact, KindInvalidRequest},
		{ErrNoUntrainedVersion, KindNoUntrainedVersion},
		{ErrVersionNotFound, KindVersionNotFound},
		{fmt.Errorf("list: %w", ErrRemoteAuth), KindRemoteAuth},
		{ErrRemoteNotFound, KindRemoteNotFound},
		{ErrRemoteTimeout, KindRemoteTimeout},
		{ErrRemoteUnavailable, KindRemoteRejected},
		{&UnresolvedClassError{Module: "m", Name: "C3k2"}, KindRemoteRejected},
		{fmt.Errorf("%w: disk full", ErrLocalStoreFailed), KindLocalStoreFailed},
		{ErrUserCancelled, KindUserCancelled},
		{errors.New("boom"), KindRemoteRejected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err), fmt.Sprint(tt.err))
	}
}

func TestParseUnresolvedClass(t *testing.T) {
	tests := []struct {
		msg  string
		name string
		ok   bool
	}{
		{"Can't get attribute 'C3k2' on <module 'ultralytics.nn.modules.block' from '/x/block.py'>", "C3k2", true},
		{"AttributeError: module 'ultralytics.nn.modules' has no attribute 'C2PSA'", "C2PSA", true},
		{"unknown class: ultralytics.nn.modules.block.C3k2", "C3k2", true},
		{"connection refused", "", false},
	}
	for _, tt := range tests {
		name, ok := ParseUnresolvedClass(tt.msg)
		assert.Equal(t, tt.ok, ok, tt.msg)
		assert.Equal(t, tt.name, name, tt.msg)
	}
}

func TestUnresolvedClassName(t *testing.T) {
	err := fmt.Errorf("load: %w", &UnresolvedClassError{Module: "ultralytics.nn.modules.block", Name: "C3k2"})
	name, ok := UnresolvedClassName(err)
	assert.True(t, ok)
	assert.Equal(t, "C3k2", name)

	_, ok = UnresolvedClassName(nil)
	assert.False(t, ok)
}

func TestGuidance(t *testing.T) {
	assert.NotEmpty(t, Guidance(KindRemoteTimeout))
	assert.NotEmpty(t, Guidance(KindNoUntrainedVersion))
	assert.Empty(t, Guidance(KindNone))
}

func TestCorruptManifestError(t *testing.T) {
	err := &CorruptManifestError{Source: "a.json", Err: ErrInvalidManifest}
	assert.ErrorIs(t, err, ErrInvalidManifest)
	assert.Contains(t, err.Error(), "a.json")
}
