package cache

import "strconv"

func parseCount(value []byte) int64 {
	n, _ := strconv.ParseInt(string(value), 10, 64)
	return n
}

func formatCount(n int64) string {
	return strconv.FormatInt(n, 10)
}
