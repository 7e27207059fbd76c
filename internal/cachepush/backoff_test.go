package cachepush

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Max: time.Hour}

	cases := map[int]time.Duration{
		0:  30 * time.Second,
		1:  30 * time.Second,
		2:  time.Minute,
		3:  2 * time.Minute,
		4:  4 * time.Minute,
		7:  32 * time.Minute,
		8:  time.Hour,
		20: time.Hour,
	}
	for attempts, want := range cases {
		assert.Equal(t, want, b.Delay(attempts), "attempts=%d", attempts)
	}
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	assert.Equal(t, defaultBackoffBase, b.Delay(1))
	assert.Equal(t, defaultBackoffMax, b.Delay(50))
}
