package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStartReferral(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    int64
		wantOK  bool
		wantErr bool
	}{
		{name: "no args", args: "", wantOK: false},
		{name: "whitespace only", args: "   ", wantOK: false},
		{name: "valid token", args: "ref_123456", want: 123456, wantOK: true},
		{name: "valid token padded", args: "  ref_42  ", want: 42, wantOK: true},
		{name: "foreign token ignored", args: "promo_2024", wantOK: false},
		{name: "non-numeric id", args: "ref_abc", wantErr: true},
		{name: "empty id", args: "ref_", wantErr: true},
		{name: "negative id", args: "ref_-5", wantErr: true},
		{name: "zero id", args: "ref_0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseStartReferral(tt.args)

			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedReferral)
				assert.False(t, ok)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
