package memory

import (
	"sync"

	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/model/chat"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
)

type sessionKey struct {
	projectID types.ProjectID
	sessionID types.SessionID
}

// Client is an in-memory implementation of interfaces.Repository. A single
// lock guards all maps, which makes every operation atomic.
type Client struct {
	mu sync.RWMutex

	projects map[types.ProjectID]*auth.Project
	apiKeys  map[types.APIKeyID]*auth.APIKey
	agents   map[types.AgentID]*agent.Agent
	versions map[types.AgentID]map[types.VersionID]*agent.AgentVersion
	profiles map[types.ProfileID]*agent.ModelProfile
	turns    map[sessionKey][]*chat.Turn
	// lastSeq survives removal of turns, so a number is never reused
	lastSeq  map[sessionKey]int64
}

var _ interfaces.Repository = (*Client)(nil)

// New creates a new in-memory client
func New() *Client {
	return &Client{
		projects: make(map[types.ProjectID]*auth.Project),
		apiKeys:  make(map[types.APIKeyID]*auth.APIKey),
		agents:   make(map[types.AgentID]*agent.Agent),
		versions: make(map[types.AgentID]map[types.VersionID]*agent.AgentVersion),
		profiles: make(map[types.ProfileID]*agent.ModelProfile),
		turns:    make(map[sessionKey][]*chat.Turn),
		lastSeq:  make(map[sessionKey]int64),
	}
}

// Close is a no-op for the in-memory backend
func (c *Client) Close() error {
	return nil
}
