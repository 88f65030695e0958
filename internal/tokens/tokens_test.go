package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateEmpty(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
}

func TestEstimateASCII(t *testing.T) {
	// 8 ascii chars -> ceil(8/4) = 2
	assert.Equal(t, 2, Estimate("abcdefgh"))
}

func TestEstimateNonASCII(t *testing.T) {
	// CJK runs 1.6 chars/token
	s := strings.Repeat("王", 8)
	assert.Equal(t, 5, Estimate(s)) // ceil(8/1.6) = 5
}

func TestEstimateMixed(t *testing.T) {
	s := "abcd" + "王王" // 4 ascii + 2 non-ascii -> 1 + ceil(2/1.6)=2 -> 3
	assert.Equal(t, 3, Estimate(s))
}

func TestEstimateMonotonic(t *testing.T) {
	base := Estimate("hello world")
	longer := Estimate("hello world!")
	assert.GreaterOrEqual(t, longer, base)
}

func TestEstimateBlock(t *testing.T) {
	got := EstimateBlock([]string{"abcd", "efgh", ""})
	assert.Equal(t, Estimate("abcd")+Estimate("efgh"), got)
}
