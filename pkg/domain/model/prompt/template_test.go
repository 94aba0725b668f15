package prompt_test

import (
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kitsune/pkg/domain/model/prompt"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

func TestExtractVariables(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		expected []string
	}{
		{"sorted", "Hello $name, you are $age", []string{"age", "name"}},
		{"deduplicated", "$a $b $a $_c1", []string{"_c1", "a", "b"}},
		{"digit cannot start a name", "costs $5 and $x9", []string{"x9"}},
		{"none", "no variables here", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, prompt.ExtractVariables(tc.template), tc.expected)
		})
	}
}

func TestRender(t *testing.T) {
	t.Run("strict with value", func(t *testing.T) {
		out, err := prompt.Render("Hi $name", map[string]string{"name": "Ada"}, true)
		gt.NoError(t, err)
		gt.Equal(t, out, "Hi Ada")
	})

	t.Run("strict without value lists missing names", func(t *testing.T) {
		_, err := prompt.Render("Hi $name from $place and $name", map[string]string{}, true)
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, apperr.ErrTagValidation))
		gt.S(t, err.Error()).Contains("missing variable values for: name, place")
	})

	t.Run("lenient leaves placeholder", func(t *testing.T) {
		out, err := prompt.Render("Hi $name", map[string]string{}, false)
		gt.NoError(t, err)
		gt.Equal(t, out, "Hi $name")
	})

	t.Run("empty value counts as missing", func(t *testing.T) {
		out, err := prompt.Render("Hi $name", map[string]string{"name": ""}, false)
		gt.NoError(t, err)
		gt.Equal(t, out, "Hi $name")
	})

	t.Run("substitution is not recursive", func(t *testing.T) {
		out, err := prompt.Render("$a and $b", map[string]string{"a": "$b", "b": "B"}, true)
		gt.NoError(t, err)
		gt.Equal(t, out, "$b and B")
	})

	t.Run("longest identifier is matched", func(t *testing.T) {
		out, err := prompt.Render("$user_name", map[string]string{"user": "x", "user_name": "Ada"}, true)
		gt.NoError(t, err)
		gt.Equal(t, out, "Ada")
	})
}
