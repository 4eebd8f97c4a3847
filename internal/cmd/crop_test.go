package cmd

import (
	"testing"

	"github.com/MeKo-Tech/layerstudio/internal/types"
)

func TestParseRect(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    types.PixelRect
		wantErr bool
	}{
		{
			name:  "comma separated",
			input: "10,20,300,200",
			want:  types.PixelRect{X: 10, Y: 20, Width: 300, Height: 200},
		},
		{
			name:  "comma separated with spaces",
			input: " 0, 0, 5, 6 ",
			want:  types.PixelRect{Width: 5, Height: 6},
		},
		{
			name:  "geometry form",
			input: "300x200+10+20",
			want:  types.PixelRect{X: 10, Y: 20, Width: 300, Height: 200},
		},
		{
			name:    "too few values",
			input:   "1,2,3",
			wantErr: true,
		},
		{
			name:    "invalid number",
			input:   "a,2,3,4",
			wantErr: true,
		},
		{
			name:    "zero width",
			input:   "0,0,0,10",
			wantErr: true,
		},
		{
			name:    "negative offset",
			input:   "-1,0,10,10",
			wantErr: true,
		},
		{
			name:    "garbage geometry",
			input:   "300by200",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRect(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseRect(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("parseRect(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.want {
				t.Errorf("parseRect(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRectRoundTripsString(t *testing.T) {
	r := types.PixelRect{X: 3, Y: 4, Width: 10, Height: 5}
	got, err := parseRect(r.String())
	if err != nil {
		t.Fatalf("parseRect(%q) unexpected error: %v", r.String(), err)
	}
	if got != r {
		t.Errorf("parseRect(%q) = %v, want %v", r.String(), got, r)
	}
}
