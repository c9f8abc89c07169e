package timestamp

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	ts := time.Date(2024, time.March, 7, 9, 4, 5, 678_901_234, time.UTC)
	assert.Equal(t, "2024-03-07_09-04-05-678", Encode(ts))

	tokyo := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, "2024-03-07_00-00-00-000", Encode(time.Date(2024, time.March, 7, 9, 0, 0, 0, tokyo)))
}

func TestRoundTrip(t *testing.T) {
	instants := []time.Time{
		time.Date(1999, time.December, 31, 23, 59, 59, 999_000_000, time.UTC),
		time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2030, time.July, 1, 12, 30, 45, 1_000_000, time.UTC),
		Truncate(time.Now()),
	}
	for _, want := range instants {
		got, ok := Decode(Encode(want))
		require.True(t, ok, "decode %s", Encode(want))
		assert.True(t, want.Equal(got), "want %v got %v", want, got)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	inputs := []string{
		"",
		"latest",
		"2024-03-07_09-04-05",
		"2024-03-07T09:04:05.678Z",
		"2024-13-07_09-04-05-678",
		"2024-02-30_09-04-05-678",
		"2024-03-07_25-04-05-678",
		"2024-03-07_09-04-05-6789",
		" 2024-03-07_09-04-05-678",
		"2024-03-07_09-04-05-678.tar.gz",
	}
	for _, in := range inputs {
		_, ok := Decode(in)
		assert.False(t, ok, "input %q", in)
	}
}

func TestLexicographicOrderMatchesChronological(t *testing.T) {
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{
		3 * time.Millisecond, 10 * time.Second, 1, 26 * time.Hour, 999 * time.Millisecond, 40 * 24 * time.Hour,
	}
	var stamps []string
	var instants []time.Time
	for _, off := range offsets {
		ts := Truncate(base.Add(off))
		instants = append(instants, ts)
		stamps = append(stamps, Encode(ts))
	}
	sort.Strings(stamps)
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })

	for i := range stamps {
		assert.Equal(t, Encode(instants[i]), stamps[i])
	}
}
