package envfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "vars.env")
	content := `
# build variables
APP_VERSION="1.4.2"
export ENVIRONMENT=staging
GREETING='hello world'
URL=https://example.com/?a=b
EMPTY=
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	vars, err := Parse(path)
	require.NoError(t, err)

	assert.Equal(t, "1.4.2", vars["APP_VERSION"])
	assert.Equal(t, "staging", vars["ENVIRONMENT"])
	assert.Equal(t, "hello world", vars["GREETING"])
	assert.Equal(t, "https://example.com/?a=b", vars["URL"])
	assert.Contains(t, vars, "EMPTY")
	assert.Equal(t, "", vars["EMPTY"])
}

func TestParse_MissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "missing.env"))
	assert.True(t, os.IsNotExist(err))
}

func TestParseReader_InvalidLine(t *testing.T) {
	_, err := ParseReader(strings.NewReader("GOOD=1\nnot an assignment\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    map[string]string
		wantErr bool
	}{
		{
			name:  "simple",
			input: []string{"region=us-east-1", "version=2"},
			want:  map[string]string{"region": "us-east-1", "version": "2"},
		},
		{
			name:  "later wins",
			input: []string{"a=1", "a=2"},
			want:  map[string]string{"a": "2"},
		},
		{
			name:  "quoted value with equals",
			input: []string{`filter="name=web-*"`},
			want:  map[string]string{"filter": "name=web-*"},
		},
		{
			name:    "missing equals",
			input:   []string{"oops"},
			wantErr: true,
		},
		{
			name:    "empty key",
			input:   []string{"=value"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
