package poller

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/windows"
)

func TestCompletionTimeout(t *testing.T) {
	for _, tc := range [...]struct {
		timeout time.Duration
		want    uint32
	}{
		{-1, windows.INFINITE},
		{0, 0},
		{1, 1},
		{time.Millisecond + 1, 2},
		{(windows.INFINITE - 2) * time.Millisecond, windows.INFINITE - 2},
		{(windows.INFINITE-2)*time.Millisecond + 1, windows.INFINITE - 1},
		{windows.INFINITE * time.Millisecond, windows.INFINITE - 1},
		{math.MaxInt64 - time.Millisecond + 2, windows.INFINITE - 1},
		{math.MaxInt64, windows.INFINITE - 1},
	} {
		assert.Equal(t, tc.want, completionTimeout(tc.timeout), `timeout %v`, tc.timeout)
	}
}
