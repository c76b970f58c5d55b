package model

// NodeRole is the role a node's shard copy plays
type NodeRole string

const (
	NodeRolePrimary NodeRole = "primary"
	NodeRoleReplica NodeRole = "replica"
)

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// NodeMeta is the state a node advertises to the cluster over gossip
type NodeMeta struct {
	NodeID       string     `json:"node_id"`
	ShardID      string     `json:"shard_id"`
	Role         NodeRole   `json:"role"`
	RPCAddr      string     `json:"rpc_addr"`
	Status       NodeStatus `json:"status"`
	PrimaryTerm  int64      `json:"primary_term"`
	LeaseVersion int64      `json:"lease_version"`
	Timestamp    int64      `json:"timestamp"`
}

// HealthMetrics contains resource usage used to derive NodeStatus
type HealthMetrics struct {
	MemoryUsage float64
	DiskUsage   float64
	ErrorRate   float64
}

// StatusFor classifies a node from its health metrics
func StatusFor(m HealthMetrics) NodeStatus {
	switch {
	case m.MemoryUsage > 90 || m.DiskUsage > 90:
		return NodeStatusDegraded
	case m.ErrorRate > 0.1:
		return NodeStatusUnhealthy
	default:
		return NodeStatusHealthy
	}
}
