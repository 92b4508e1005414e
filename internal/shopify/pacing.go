package shopify

import (
	"strconv"
	"strings"
	"time"
)

// CallLimitHeader reports bucket usage as "used/size"
const CallLimitHeader = "X-Shopify-Shop-Api-Call-Limit"

// parseCallLimit returns the used and total size of the leaky bucket
func parseCallLimit(header string) (used, size int, ok bool) {
	left, right, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found {
		return 0, 0, false
	}
	used, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, false
	}
	size, err = strconv.Atoi(strings.TrimSpace(right))
	if err != nil || size <= 0 || used < 0 {
		return 0, 0, false
	}
	return used, size, true
}

// pacingGap is the extra wait before the next call given the bucket usage
func pacingGap(header string) time.Duration {
	used, size, ok := parseCallLimit(header)
	if !ok {
		return 0
	}
	usage := float64(used) / float64(size)
	switch {
	case usage >= 0.875:
		return 2 * time.Second
	case usage >= 0.75:
		return time.Second
	case usage >= 0.5:
		return 500 * time.Millisecond
	}
	return 0
}
