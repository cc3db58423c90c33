package extension_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pi-agent/pi/internal/extension"
)

func TestDefaultCommand(t *testing.T) {
	tests := []struct {
		path string
		args []string
	}{
		{"/ext/a.js", []string{"node", "/ext/a.js"}},
		{"/ext/a.MJS", []string{"node", "/ext/a.MJS"}},
		{"/ext/a.ts", []string{"node", "/ext/a.ts"}},
		{"/ext/a.py", []string{"python3", "/ext/a.py"}},
		{"/ext/bin/tool", []string{"/ext/bin/tool"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.args, extension.DefaultCommand(tt.path).Args)
		})
	}
}
