package currency

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	assert.Equal(t, int64(0), ToBaseUnits(Coins{}))
	assert.Equal(t, int64(1234), ToBaseUnits(Coins{PP: 1, GP: 2, SP: 3, CP: 4}))
	assert.Equal(t, int64(2150), ToBaseUnits(Coins{GP: 21, SP: 5}))
}

func TestFromBaseUnits_RoundTrip(t *testing.T) {
	for pp := int64(0); pp < 4; pp++ {
		for gp := int64(0); gp < 10; gp++ {
			for sp := int64(0); sp < 10; sp++ {
				for cp := int64(0); cp < 10; cp++ {
					c := Coins{PP: pp, GP: gp, SP: sp, CP: cp}
					require.Equal(t, c, FromBaseUnits(ToBaseUnits(c)))
				}
			}
		}
	}
	big := Coins{PP: 98765, GP: 4, SP: 3, CP: 2}
	assert.Equal(t, big, FromBaseUnits(ToBaseUnits(big)))
}

func TestFromBaseUnits_NonPositive(t *testing.T) {
	assert.Equal(t, Coins{}, FromBaseUnits(0))
	assert.Equal(t, Coins{}, FromBaseUnits(-15))
}

func TestRoundMajor(t *testing.T) {
	tests := []struct {
		gold float64
		want int64
	}{
		{1, 100},
		{0.125, 13},
		{0.124, 12},
		{2.375, 238},
		{0, 0},
		{-3, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundMajor(tt.gold), "RoundMajor(%v)", tt.gold)
	}
}

func TestSubtract(t *testing.T) {
	tests := []struct {
		name   string
		purse  Coins
		amount int64
		want   Coins
		ok     bool
	}{
		{"exact copper", Coins{CP: 5}, 5, Coins{}, true},
		{"spends small coins first", Coins{GP: 1, SP: 2, CP: 3}, 23, Coins{GP: 1}, true},
		{"breaks a gold coin", Coins{GP: 5, CP: 9}, 10, Coins{GP: 4, SP: 9, CP: 9}, true},
		{"breaks platinum into change", Coins{PP: 1}, 1, Coins{GP: 9, SP: 9, CP: 9}, true},
		{"zero amount", Coins{GP: 2}, 0, Coins{GP: 2}, true},
		{"insufficient", Coins{SP: 2}, 21, Coins{SP: 2}, false},
		{"negative purse", Coins{GP: -1, PP: 1}, 10, Coins{GP: -1, PP: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.purse.Subtract(tt.amount)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
			if ok {
				assert.Equal(t, ToBaseUnits(tt.purse)-tt.amount, ToBaseUnits(got))
			}
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 cp", Format(0))
	assert.Equal(t, "3 cp", Format(3))
	assert.Equal(t, "1 pp 2 gp 5 cp", Format(1205))
	assert.Equal(t, "-1 sp", Format(-10))
}

func TestParseDenomination(t *testing.T) {
	v, ok := ParseDenomination(" GP ")
	assert.True(t, ok)
	assert.Equal(t, int64(100), v)
	_, ok = ParseDenomination("ep")
	assert.False(t, ok)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"150", 150, true},
		{"2 gp 5 sp", 250, true},
		{"3gp 4cp", 304, true},
		{"1 PP", 1000, true},
		{"", 0, false},
		{"2 ep", 0, false},
		{"-1 gp", 0, false},
	}
	for _, tt := range tests {
		got, err := ParsePrice(tt.in)
		if !tt.ok {
			assert.Error(t, err, "ParsePrice(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParsePrice(%q)", tt.in)
		assert.Equal(t, tt.want, got, "ParsePrice(%q)", tt.in)
	}
}
