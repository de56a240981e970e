package logger

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(2, 5)
	var got []bool
	for i := 0; i < 10; i++ {
		got = append(got, s.Allow())
	}
	assert.Equal(t, []bool{true, true, false, false, false, true, true, false, false, false}, got)

	s.Set(0, 0)
	for i := 0; i < 3; i++ {
		assert.True(t, s.Allow())
	}

	s.Set(9, 3)
	assert.True(t, s.Allow(), "numerator is capped at the denominator")
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"1/50":  {1, 50},
		" 3/4 ": {3, 4},
		"20":    {1, 20},
		"0":     {0, 0},
		"":      {0, 0},
		"a/b":   {0, 0},
		"x":     {0, 0},
	}
	for in, want := range cases {
		n, d := parseRatioSpec(in)
		assert.Equal(t, want, [2]int{n, d}, in)
	}
}

func TestAsyncWriterFlushAndClose(t *testing.T) {
	var a, b bytes.Buffer
	w := newAsyncWriter([]io.Writer{&a, nil, &b}, 16)
	require.NoError(t, w.Write([]byte("one\n")))
	require.NoError(t, w.Write([]byte("two\n")))
	require.NoError(t, w.Flush())
	assert.Equal(t, "one\ntwo\n", a.String())
	assert.Equal(t, a.String(), b.String())

	require.NoError(t, w.Write([]byte("three\n")))
	require.NoError(t, w.Close())
	assert.Equal(t, "one\ntwo\nthree\n", a.String())
}
