package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberGenerator produces identifiers for lots and documents when the caller
// does not supply one. Injectable so tests can pin deterministic values.
type NumberGenerator interface {
	// LotNumber returns a fresh globally unique lot number.
	LotNumber() string
	// ReferenceNumber returns a fresh document reference number.
	ReferenceNumber() string
}

type clockNumberGenerator struct {
	now func() time.Time
}

// NewNumberGenerator returns the default generator: time-based lot numbers
// and uuid-based document references.
func NewNumberGenerator() NumberGenerator {
	return &clockNumberGenerator{now: time.Now}
}

func (g *clockNumberGenerator) LotNumber() string {
	return fmt.Sprintf("LOT-%d", g.now().UnixMilli())
}

func (g *clockNumberGenerator) ReferenceNumber() string {
	return "DOC-" + strings.ToUpper(uuid.NewString()[:8])
}
