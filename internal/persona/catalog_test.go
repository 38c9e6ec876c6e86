package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSampler []int

func (f fixedSampler) Sample(n, k int) []int { return f }

func TestLoad_EmbeddedCatalog(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)

	all := c.All()
	require.Len(t, all, 5)

	codes := make([]string, 0, len(all))
	for _, p := range all {
		codes = append(codes, p.Code)
		assert.NotEmpty(t, p.DisplayName, p.Code)
		assert.NotEmpty(t, p.Description, p.Code)
		assert.NotEmpty(t, p.Kaomoji, p.Code)
	}
	assert.Equal(t, []string{"TSUNDERE", "YANDERE", "KUUDERE", "GENKI", "ONEESAN"}, codes)
}

func TestPick_Distinct(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		picked, err := c.Pick(3)
		require.NoError(t, err)
		require.Len(t, picked, 3)

		seen := map[string]bool{}
		for _, p := range picked {
			assert.False(t, seen[p.Code], "duplicate %s", p.Code)
			seen[p.Code] = true
		}
	}
}

func TestPick_UsesSampler(t *testing.T) {
	c, err := Load(fixedSampler{4, 0, 2})
	require.NoError(t, err)

	picked, err := c.Pick(3)
	require.NoError(t, err)
	assert.Equal(t, "ONEESAN", picked[0].Code)
	assert.Equal(t, "TSUNDERE", picked[1].Code)
	assert.Equal(t, "KUUDERE", picked[2].Code)
}

func TestPick_RejectsBadSamplerOutput(t *testing.T) {
	c, err := Load(fixedSampler{1, 1, 2})
	require.NoError(t, err)
	_, err = c.Pick(3)
	assert.Error(t, err)

	c, err = Load(fixedSampler{0, 9, 2})
	require.NoError(t, err)
	_, err = c.Pick(3)
	assert.Error(t, err)
}

func TestPick_OutOfRange(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)

	_, err = c.Pick(0)
	assert.Error(t, err)
	_, err = c.Pick(6)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)

	p, ok := c.Lookup("GENKI")
	require.True(t, ok)
	assert.Equal(t, "元气", p.DisplayName)

	_, ok = c.Lookup("NOPE")
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("[]"), nil)
	assert.Error(t, err)

	_, err = Parse([]byte("- code: A\n  description: x\n- code: A\n  description: y\n"), nil)
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("- code: A\n"), nil)
	assert.Error(t, err)

	_, err = Parse([]byte("{not yaml"), nil)
	assert.Error(t, err)
}
