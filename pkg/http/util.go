package http

import (
	"net/http"

	xutil "CapitalDash/pkg/util"
)

// SplitSymbols normalizes a comma separated symbol list.
func SplitSymbols(s string) []string { return xutil.SplitSymbols(s) }

// SplitTickers is SplitSymbols that rejects anything that is not a ticker.
func SplitTickers(field, s string) ([]string, *AppError) {
	syms := SplitSymbols(s)
	for _, sym := range syms {
		if !IsTicker(sym) {
			return nil, NewAppError(CodeTicker, field, "invalid symbol "+sym, http.StatusBadRequest).WithParam("value", sym)
		}
	}
	return syms, nil
}
