package errors

import "errors"

// DumpInfo carries the unwrapped error chain for server-side logging.
type DumpInfo struct {
	TopMessage string
	Code       Code
	Chain      []string
}

// Dump walks the error chain so log lines capture every wrapped cause.
func Dump(err error) DumpInfo {
	info := DumpInfo{}
	if err == nil {
		return info
	}
	info.TopMessage = err.Error()
	if typed := As(err); typed != nil {
		info.Code = typed.Code()
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		info.Chain = append(info.Chain, current.Error())
	}
	return info
}
