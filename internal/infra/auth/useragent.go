package auth

import (
	"fmt"
	"math/rand"
)

// RandomUserAgent returns a plausible desktop browser user agent.
func RandomUserAgent() string {
	chrome := fmt.Sprintf("%d.0.%d.%d", between(80, 105), between(3000, 4500), between(60, 125))
	switch rand.Intn(4) {
	case 0:
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chrome)
	case 1:
		v := between(90, 110)
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux x86_64; rv:%d.0) Gecko/20100101 Firefox/%d.0", v, v)
	case 2:
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36 Edg/%s", chrome, chrome)
	default:
		webkit := fmt.Sprintf("%d.%d.%d", between(600, 610), between(1, 20), between(1, 20))
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_%d_%d) AppleWebKit/%s (KHTML, like Gecko) Version/%d.0 Safari/%s",
			between(11, 15), between(0, 9), webkit, between(13, 16), webkit)
	}
}

func between(lo, hi int) int {
	return lo + rand.Intn(hi-lo+1)
}
