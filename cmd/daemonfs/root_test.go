package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmdRequiresExactlyOneArg(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"too many args", []string{"a", "b"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rootCmd.SetArgs(c.args)
			assert.Error(t, rootCmd.Args(rootCmd, c.args))
		})
	}
}

func TestFlagsDefaultToUnset(t *testing.T) {
	assert.Empty(t, bootstrapFlag)
	assert.False(t, verboseFlag)
}
