package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator issues time-ordered int64 ids for routing rules and scan events.
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for the given node id (0..1023). Every instance
// writing to the same database needs its own node id.
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}
