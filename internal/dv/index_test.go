package dv

import (
	"errors"
	"testing"
)

func TestParseOrders(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []Order
		wantErr bool
	}{
		{name: "empty", spec: "", want: nil},
		{name: "default direction", spec: "name", want: []Order{{OrderName, Asc}}},
		{name: "several terms", spec: "fileSize:desc, name:ASC", want: []Order{{OrderFileSize, Desc}, {OrderName, Asc}}},
		{name: "unknown field", spec: "created_at", wantErr: true},
		{name: "unknown direction", spec: "name:sideways", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrders(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOrder) {
					t.Fatalf("ParseOrders(%q) error = %v, want ErrInvalidOrder", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOrders(%q) error = %v", tt.spec, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseOrders(%q) = %v, want %v", tt.spec, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("order[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
