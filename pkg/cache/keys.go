package cache

import (
	"fmt"
	"strings"
)

// Key joins an operation name and its parameters with ":".
// Key("ohlcv", "SPY", "1Y") == "ohlcv:SPY:1Y".
func Key(op string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(op)
	for _, p := range params {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// PrefixPattern matches every key starting with prefix.
func PrefixPattern(prefix string) string {
	return prefix + "*"
}
