package recurrence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromDays(t *testing.T) {
	tests := []struct {
		days int
		want Frequency
	}{
		{1, Frequency{Daily, 1}},
		{7, Frequency{Weekly, 1}},
		{14, Frequency{Weekly, 2}},
		{30, Frequency{Monthly, 1}},
		{31, Frequency{Monthly, 1}},
		{60, Frequency{Monthly, 2}},
		{61, Frequency{Monthly, 2}},
		{90, Frequency{Monthly, 3}},
		{91, Frequency{Monthly, 3}},
		{180, Frequency{Monthly, 6}},
		{183, Frequency{Monthly, 6}},
		{365, Frequency{Yearly, 1}},
		{366, Frequency{Yearly, 1}},
		{730, Frequency{Yearly, 2}},
		{120, Frequency{Monthly, 4}},
		{21, Frequency{Weekly, 3}},
		{45, Frequency{Daily, 45}},
		{3, Frequency{Daily, 3}},
		// 210 is a multiple of both 30 and 7; months win.
		{210, Frequency{Monthly, 7}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FromDays(tt.days), "FromDays(%d)", tt.days)
	}
}
