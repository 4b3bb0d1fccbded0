package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTag(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		wantErr bool
	}{
		{name: "date tag", tag: "20240304"},
		{name: "autosave tag", tag: "auto_save_day_12"},
		{name: "pause tag", tag: "pause"},
		{name: "dots and dashes", tag: "exp-1.baseline"},
		{name: "empty", tag: "", wantErr: true},
		{name: "leading dot", tag: ".hidden", wantErr: true},
		{name: "spaces", tag: "my tag", wantErr: true},
		{name: "path separator", tag: "a/b", wantErr: true},
		{name: "traversal", tag: "../etc", wantErr: true},
		{name: "too long", tag: strings.Repeat("x", 65), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTag(tt.tag)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("configs/simtrader.yaml"))
	assert.NoError(t, ValidatePath("/abs/path/data"))
	assert.Error(t, ValidatePath(""))
	assert.Error(t, ValidatePath("../../etc/passwd"))
	assert.Error(t, ValidatePath(`..\windows`))
}
