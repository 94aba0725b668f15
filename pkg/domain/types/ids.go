package types

import "context"

// ProjectID identifies a tenant. Every stored entity belongs to exactly one project.
type ProjectID string

func NewProjectID(ctx context.Context) ProjectID { return ProjectID(newUUID(ctx)) }
func (id ProjectID) String() string { return string(id) }
func (id ProjectID) IsValid() bool { return isUUID(string(id)) }

type AgentID string

func NewAgentID(ctx context.Context) AgentID { return AgentID(newUUID(ctx)) }
func (id AgentID) String() string { return string(id) }
func (id AgentID) IsValid() bool { return isUUID(string(id)) }

type VersionID string

func NewVersionID(ctx context.Context) VersionID { return VersionID(newUUID(ctx)) }
func (id VersionID) String() string { return string(id) }
func (id VersionID) IsValid() bool { return isUUID(string(id)) }

type ProfileID string

func NewProfileID(ctx context.Context) ProfileID { return ProfileID(newUUID(ctx)) }
func (id ProfileID) String() string { return string(id) }
func (id ProfileID) IsValid() bool { return isUUID(string(id)) }

type TurnID string

func NewTurnID(ctx context.Context) TurnID { return TurnID(newUUID(ctx)) }
func (id TurnID) String() string { return string(id) }
func (id TurnID) IsValid() bool { return isUUID(string(id)) }

// APIKeyID identifies a project key. It is recorded on turns for usage attribution.
type APIKeyID string

func NewAPIKeyID(ctx context.Context) APIKeyID { return APIKeyID(newUUID(ctx)) }
func (id APIKeyID) String() string { return string(id) }
func (id APIKeyID) IsValid() bool { return isUUID(string(id)) }
