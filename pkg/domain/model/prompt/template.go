// Package prompt implements $name style variables in system prompts.
package prompt

import (
	"regexp"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
)

var variablePattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// MissingKey holds the names unresolved in strict mode
var MissingKey = goerr.NewTypedKey[[]string]("missing_variables")

// ExtractVariables returns the sorted, unique variable names used in template
func ExtractVariables(template string) []string {
	matches := variablePattern.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Render substitutes every $name occurrence with values[name] in one pass.
// Substituted text is never scanned again. A missing or empty value leaves
// the placeholder unchanged, or fails with a validation error when strict.
func Render(template string, values map[string]string, strict bool) (string, error) {
	var missing []string
	rendered := variablePattern.ReplaceAllStringFunc(template, func(placeholder string) string {
		name := placeholder[1:]
		if v := values[name]; v != "" {
			return v
		}
		missing = append(missing, name)
		return placeholder
	})

	if strict && len(missing) > 0 {
		slices.Sort(missing)
		missing = slices.Compact(missing)
		return "", goerr.New("missing variable values for: "+strings.Join(missing, ", "),
			goerr.T(apperr.ErrTagValidation),
			goerr.TV(MissingKey, missing),
		)
	}

	return rendered, nil
}
