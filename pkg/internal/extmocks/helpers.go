// Package extmocks holds argument matchers for testify mocks.
package extmocks

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/stretchr/testify/mock"
)

// AnyContext matches any context.Context argument.
var AnyContext = mock.MatchedBy(func(context.Context) bool { return true })

// JSONOf matches a string argument that decodes into a value of the same type
// as expected and deep equals it.
func JSONOf[T any](expected T) any {
	return mock.MatchedBy(func(s string) bool {
		var got T
		if err := json.Unmarshal([]byte(s), &got); err != nil {
			return false
		}
		return reflect.DeepEqual(expected, got)
	})
}
