package tcs

import "strconv"

func formatUint(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func formatBool(value bool) string {
	return strconv.FormatBool(value)
}
