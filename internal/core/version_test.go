package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionID_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b VersionID
		want int
	}{
		{"older", VersionID{Version: 1}, VersionID{Version: 2}, -1},
		{"newer", VersionID{Version: 3}, VersionID{Version: 2}, 1},
		{"equal", VersionID{Version: 2, Index: 2}, VersionID{Version: 2, Index: 2}, 0},
		{"index ignored", VersionID{Version: 2, Index: 9}, VersionID{Version: 2, Index: 1}, 0},
		{"index never breaks order", VersionID{Version: 1, Index: 9}, VersionID{Version: 2, Index: 0}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, tt.want >= 0, tt.a.AtLeast(tt.b))
		})
	}
}

func TestVersionID_EqualityIsStructural(t *testing.T) {
	a := VersionID{Version: 2, Index: 1}
	b := VersionID{Version: 2, Index: 3}
	assert.Equal(t, 0, a.Compare(b))
	assert.NotEqual(t, a, b)
}

func TestNewVersionID(t *testing.T) {
	assert.Equal(t, VersionID{Version: 70, Index: 6}, NewVersionID(70, 0))
	assert.Equal(t, VersionID{Version: 7, Index: 1}, NewVersionID(7, 3))
	assert.Equal(t, "v7.1", NewVersionID(7, 3).String())
}
