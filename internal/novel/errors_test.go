package novel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "login wall", err: fmt.Errorf("detail: %w", ErrLoginRequired), want: true},
		{name: "not found", err: ErrNotFound, want: true},
		{name: "invalid id", err: ErrInvalidID, want: true},
		{name: "canceled", err: context.Canceled, want: true},
		{name: "parse", err: ErrParse, want: false},
		{name: "timeout", err: context.DeadlineExceeded, want: false},
		{name: "plain", err: errors.New("502 bad gateway"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsTerminal(tt.err))
		})
	}
}

func TestNewFetchErrorClassifies(t *testing.T) {
	t.Parallel()

	ref := WorkRef{Platform: PlatformNovelpia, WorkID: "42"}

	terminal := NewFetchError("unit content", ref, 1, ErrNotFound)
	require.Equal(t, FetchTerminal, terminal.Kind)
	require.ErrorIs(t, terminal, ErrNotFound)
	require.True(t, IsTerminal(terminal))

	transient := NewFetchError("unit content", ref, 3, context.DeadlineExceeded)
	require.Equal(t, FetchTransient, transient.Kind)
	require.True(t, IsTimeout(transient))
	require.Contains(t, transient.Error(), "novelpia/42")
	require.Contains(t, transient.Error(), "3 attempts")
}

func TestAssetErrorUnwraps(t *testing.T) {
	t.Parallel()

	err := &AssetError{URL: "https://img.example/a.png", Err: ErrNotFound}
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "a.png")
}
