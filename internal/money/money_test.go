package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Money
	}{
		{"0", 0},
		{"12", 1200},
		{"12.5", 1250},
		{"12.05", 1205},
		{"1250.50", 125050},
		{".99", 99},
		{"-3.10", -310},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", "1.", "1.x"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "0.00", Money(0).String())
	assert.Equal(t, "1250.50", Money(125050).String())
	assert.Equal(t, "-0.05", Money(-5).String())
}

func TestJSON(t *testing.T) {
	var v struct {
		Price Money `json:"price"`
		Old   Money `json:"old"`
		None  Money `json:"none"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price":"349.90","old":420,"none":null}`), &v))
	assert.Equal(t, Money(34990), v.Price)
	assert.Equal(t, Money(42000), v.Old)
	assert.Equal(t, Money(0), v.None)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":"349.90","old":"420.00","none":"0.00"}`, string(out))
}

func TestMul(t *testing.T) {
	assert.Equal(t, Money(3000), Money(1000).Mul(3))
}
