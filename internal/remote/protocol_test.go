package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSentinel(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   Status
	}{
		{name: "success", stdout: "CONVERSION_SUCCESS\n", want: StatusSuccess},
		{name: "failure", stdout: "CONVERSION_ERROR\n", want: StatusFailure},
		{name: "success with noise", stdout: "frame= 10\nCONVERSION_SUCCESS\r\n", want: StatusSuccess},
		{name: "last wins", stdout: "CONVERSION_SUCCESS\nCONVERSION_ERROR\n", want: StatusFailure},
		{name: "token inside a longer line", stdout: "echo CONVERSION_SUCCESS later\n", want: StatusUnknown},
		{name: "empty", stdout: "", want: StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSentinel(tt.stdout, ConversionSuccess, ConversionError))
		})
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/content/a.mp4", "'/content/a.mp4'"},
		{"/content/my clip.mp4", "'/content/my clip.mp4'"},
		{"/content/it's.mp4", `'/content/it'\''s.mp4'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in))
	}
}

func TestParseStat(t *testing.T) {
	info, err := ParseStat("5000000\n")
	require.NoError(t, err)
	assert.Equal(t, FileInfo{Exists: true, Size: 5_000_000}, info)

	info, err = ParseStat("NOT_FOUND\n")
	require.NoError(t, err)
	assert.False(t, info.Exists)

	_, err = ParseStat("stat: permission denied")
	assert.ErrorIs(t, err, ErrUnexpectedOutput)
}

func TestParseDelete(t *testing.T) {
	assert.NoError(t, ParseDelete("DELETED\n"))
	assert.ErrorIs(t, ParseDelete("NOT_FOUND\n"), ErrNotFound)
	assert.ErrorIs(t, ParseDelete("rm: Operation not permitted\n"), ErrUnexpectedOutput)
}

func TestCommands(t *testing.T) {
	assert.Equal(t, "stat -c%s '/c/a.mp4' 2>/dev/null || echo NOT_FOUND", StatCommand("/c/a.mp4"))
	assert.Equal(t, "mkdir -p -- '/c/alice' && echo DIR_READY", MkdirCommand("/c/alice"))
	assert.Equal(t, "if [ -e '/c/a.mp4' ]; then rm -f -- '/c/a.mp4' && echo DELETED; else echo NOT_FOUND; fi",
		DeleteCommand("/c/a.mp4"))
}
