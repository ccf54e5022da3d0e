// Package loanno generates human-facing loan numbers.
package loanno

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out globally unique loan numbers of the form LN-<year>-<id>.
// Uniqueness across processes requires distinct node IDs.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator creates a generator for the given node (0-1023).
func NewGenerator(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// Next returns a new loan number stamped with the disbursement year.
func (g *Generator) Next(disbursed time.Time) string {
	return fmt.Sprintf("LN-%d-%s", disbursed.Year(), g.node.Generate().Base36())
}
