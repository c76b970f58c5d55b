package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devrev/pairdb/retention-node/internal/metrics"
	"github.com/devrev/pairdb/retention-node/internal/model"
	json "github.com/goccy/go-json"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// GossipService advertises this node's shard role over memberlist and
// tracks the RPC addresses of the other copies of the same shard.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu      sync.RWMutex
	local   model.NodeMeta
	members map[string]model.NodeMeta
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// newGossipState builds the service without starting memberlist
func newGossipState(cfg *GossipConfig, local model.NodeMeta, m *metrics.Metrics, logger *zap.Logger) *GossipService {
	if local.Status == "" {
		local.Status = model.NodeStatusHealthy
	}
	local.Timestamp = time.Now().Unix()
	return &GossipService{
		config:  cfg,
		metrics: m,
		logger:  logger,
		local:   local,
		members: make(map[string]model.NodeMeta),
	}
}

// NewGossipService starts memberlist and joins the seed nodes
func NewGossipService(cfg *GossipConfig, local model.NodeMeta, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := newGossipState(cfg, local, m, logger)

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = local.NodeID
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.GossipInterval = cfg.GossipInterval
	mlConfig.ProbeTimeout = cfg.ProbeTimeout
	mlConfig.ProbeInterval = cfg.ProbeInterval
	mlConfig.Delegate = gs
	mlConfig.Events = &GossipEventDelegate{service: gs}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return gs, nil
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.mu.RLock()
	data, err := json.Marshal(s.local)
	s.mu.RUnlock()
	if err != nil || len(data) > limit {
		s.logger.Warn("Node metadata does not fit gossip limit",
			zap.Int("size", len(data)),
			zap.Int("limit", limit),
			zap.Error(err))
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	if meta, ok := s.decodeMeta(data); ok {
		s.observe(meta)
	}
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, _ := json.Marshal(s.local)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	if meta, ok := s.decodeMeta(buf); ok {
		s.observe(meta)
	}
}

// UpdateLocalState refreshes the advertised role and lease position
func (s *GossipService) UpdateLocalState(role model.NodeRole, primaryTerm, leaseVersion int64, health model.HealthMetrics) {
	s.mu.Lock()
	s.local.Role = role
	s.local.PrimaryTerm = primaryTerm
	s.local.LeaseVersion = leaseVersion
	s.local.Status = model.StatusFor(health)
	s.local.Timestamp = time.Now().Unix()
	s.mu.Unlock()

	if s.memberlist != nil {
		if err := s.memberlist.UpdateNode(s.config.ProbeTimeout); err != nil {
			s.logger.Debug("Failed to propagate node metadata", zap.Error(err))
		}
	}
}

// Peers returns the RPC addresses of the other copies of this node's shard
func (s *GossipService) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]string, 0, len(s.members))
	for name, meta := range s.members {
		if name == s.local.NodeID || meta.ShardID != s.local.ShardID || meta.RPCAddr == "" {
			continue
		}
		if meta.Role == model.NodeRolePrimary {
			continue
		}
		peers = append(peers, meta.RPCAddr)
	}
	sort.Strings(peers)
	return peers
}

// Primary returns the RPC address of the shard's primary, if known
func (s *GossipService) Primary() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best model.NodeMeta
	for name, meta := range s.members {
		if name == s.local.NodeID || meta.ShardID != s.local.ShardID || meta.Role != model.NodeRolePrimary {
			continue
		}
		if meta.PrimaryTerm >= best.PrimaryTerm {
			best = meta
		}
	}
	return best.RPCAddr, best.RPCAddr != ""
}

// Members returns a copy of the known cluster members keyed by node id
func (s *GossipService) Members() map[string]model.NodeMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make(map[string]model.NodeMeta, len(s.members))
	for k, v := range s.members {
		members[k] = v
	}
	return members
}

// Shutdown leaves the cluster and stops memberlist
func (s *GossipService) Shutdown() error {
	if s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(s.config.ProbeTimeout); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

func (s *GossipService) decodeMeta(data []byte) (model.NodeMeta, bool) {
	var meta model.NodeMeta
	if len(data) == 0 {
		return meta, false
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("Failed to unmarshal gossip node metadata", zap.Error(err))
		return meta, false
	}
	return meta, meta.NodeID != ""
}

func (s *GossipService) observe(meta model.NodeMeta) {
	s.mu.Lock()
	if existing, ok := s.members[meta.NodeID]; ok && existing.Timestamp > meta.Timestamp {
		s.mu.Unlock()
		return
	}
	s.members[meta.NodeID] = meta
	total := len(s.members)
	s.mu.Unlock()

	s.metrics.UpdateGossipStats(total)
}

func (s *GossipService) forget(nodeID string) {
	s.mu.Lock()
	delete(s.members, nodeID)
	total := len(s.members)
	s.mu.Unlock()

	s.metrics.UpdateGossipStats(total)
}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Address()))
	if meta, ok := d.service.decodeMeta(node.Meta); ok {
		d.service.observe(meta)
	}
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))
	d.service.forget(node.Name)
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
	if meta, ok := d.service.decodeMeta(node.Meta); ok {
		d.service.observe(meta)
	}
}
