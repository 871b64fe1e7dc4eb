package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Node IDs per process kind. Two processes of the same kind must not share a
// node ID, so deployments running several servers override these via config.
const (
	NodeServer int64 = 1
	NodeWorker int64 = 2
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID. Without a prior Init the
// generator falls back to node 0.
func New() int64 {
	once.Do(func() {
		node, _ = snowflake.NewNode(0)
	})
	return node.Generate().Int64()
}

// NewString returns New formatted in base 10, optionally prefixed ("msg_123").
func NewString(prefix string) string {
	s := strconv.FormatInt(New(), 10)
	if prefix == "" {
		return s
	}
	return prefix + "_" + s
}
