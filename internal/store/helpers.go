package store

import (
	"time"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

// Helpers shared by every Store implementation.

func storeNotFound(resource, id string) *schema.BoardError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
