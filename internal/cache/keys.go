package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobViewKey is scoped by owner so a cached view is never served to another user.
func JobViewKey(jobID uuid.UUID, userID string) string {
	return fmt.Sprintf("job:%s:%s", userID, jobID)
}

func RateLimitKey(principal string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", principal, window)
}
