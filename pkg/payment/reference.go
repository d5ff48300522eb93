package payment

import (
	"fmt"
	"math/rand"
	"time"
)

// ReferenceGenerator builds merchant references of the form <prefix>-<integer>.
// The integer is the submission time in milliseconds followed by three random digits,
// so two submissions only collide within the same millisecond and with the same suffix.
type ReferenceGenerator struct {
	Prefix string
	now    func() time.Time
	intn   func(n int) int
}

func NewReferenceGenerator(prefix string) *ReferenceGenerator {
	if prefix == "" {
		prefix = "AL"
	}
	return &ReferenceGenerator{Prefix: prefix, now: time.Now, intn: rand.Intn}
}

func (g *ReferenceGenerator) Next() string {
	return fmt.Sprintf("%s-%d%03d", g.Prefix, g.now().UnixMilli(), g.intn(1000))
}
