package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerIDValidation(t *testing.T) {
	var cases = []struct {
		id    PeerID
		valid bool
	}{
		{"", false},
		{"01", false},
		{"-1", false},
		{"1.5", false},
		{"99999999999999999999999999", false}, // beyond uint64
		{"0", true},
		{"18446744073709551615", true}, // math.MaxUint64
		{"42", true},
	}
	for _, tc := range cases {
		var err = tc.id.Validate()
		if tc.valid {
			assert.NoError(t, err, "id %q", tc.id)
		} else {
			assert.Error(t, err, "id %q", tc.id)
		}
	}
}

func TestChannelIDGenerator(t *testing.T) {
	var g Generator
	assert.Equal(t, ChannelID(0), g.Next())
	assert.Equal(t, ChannelID(1), g.Next())
	assert.Equal(t, ChannelID(2), g.Next())
}
