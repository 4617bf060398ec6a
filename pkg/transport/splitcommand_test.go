package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{name: "simple", command: "npx server", want: []string{"npx", "server"}},
		{name: "extra whitespace", command: "  npx   server  ", want: []string{"npx", "server"}},
		{name: "double quotes", command: `python -c "print('hi there')"`, want: []string{"python", "-c", "print('hi there')"}},
		{name: "single quotes", command: `sh -c 'echo "a b"'`, want: []string{"sh", "-c", `echo "a b"`}},
		{name: "escaped space", command: `run my\ file`, want: []string{"run", "my file"}},
		{name: "empty", command: "", wantErr: true},
		{name: "unclosed quote", command: `run "oops`, wantErr: true},
		{name: "trailing backslash", command: `run oops\`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := splitCommand(tt.command)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
