package main

import (
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
)

func TestDeadline(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dur := func(d time.Duration) *time.Duration { return &d }

	tests := []struct {
		name     string
		flag     *time.Duration
		fallback time.Duration
		want     time.Duration
		none     bool
	}{
		{name: "no flag, no default", none: true},
		{name: "default applies", fallback: time.Hour, want: time.Hour},
		{name: "flag overrides default", flag: dur(2 * time.Hour), fallback: time.Hour, want: 2 * time.Hour},
		{name: "explicit zero disables default", flag: dur(0), fallback: time.Hour, none: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deadline(now, tt.flag, tt.fallback)
			if tt.none {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, now.Add(tt.want), *got)
		})
	}
}

func TestBuildCmd_TimeoutFlag(t *testing.T) {
	parse := func(args ...string) *BuildCmd {
		t.Helper()
		var cli CLI
		parser, err := kong.New(&cli, kong.Name("mydra"))
		require.NoError(t, err)
		_, err = parser.Parse(append([]string{"build", "-f", t.TempDir(), "build_test.go"}, args...))
		require.NoError(t, err)
		return &cli.Build
	}

	require.Nil(t, parse().Timeout)

	explicit := parse("--timeout", "0s")
	require.NotNil(t, explicit.Timeout)
	require.Zero(t, *explicit.Timeout)
}
