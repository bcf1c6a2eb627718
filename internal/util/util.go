package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewDeliveryID returns a sortable unique id for a scheduled delivery.
func NewDeliveryID() string {
	t := time.Now().UTC()
	return "sched_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
