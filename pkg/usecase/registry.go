package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/interfaces"
	"github.com/m-mizutani/kitsune/pkg/domain/model/agent"
	"github.com/m-mizutani/kitsune/pkg/domain/types"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"github.com/m-mizutani/kitsune/pkg/service/crypto"
)

// registryUseCaseImpl implements interfaces.RegistryUseCases
type registryUseCaseImpl struct {
	repo  interfaces.Repository
	codec interfaces.SecretCodec
}

// NewRegistryUseCases creates the registry use cases
func NewRegistryUseCases(repo interfaces.Repository, codec interfaces.SecretCodec) interfaces.RegistryUseCases {
	return newRegistry(repo, codec)
}

func newRegistry(repo interfaces.Repository, codec interfaces.SecretCodec) *registryUseCaseImpl {
	return &registryUseCaseImpl{repo: repo, codec: codec}
}

var errCodecNotConfigured = goerr.New("secret codec is not configured")

func (x *registryUseCaseImpl) encrypt(plaintext string) (string, error) {
	if x.codec == nil {
		return "", errCodecNotConfigured
	}
	encrypted, err := x.codec.Encrypt(plaintext)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encrypt api key")
	}
	return encrypted, nil
}

func (x *registryUseCaseImpl) decrypt(ciphertext string) (string, error) {
	if x.codec == nil {
		return "", errCodecNotConfigured
	}
	plaintext, err := x.codec.Decrypt(ciphertext)
	if err != nil {
		return "", goerr.Wrap(err, "failed to decrypt api key")
	}
	return plaintext, nil
}

// checkAgentName fails when another agent of the project already uses name.
// The repository enforces the same rule on write.
func (x *registryUseCaseImpl) checkAgentName(ctx context.Context, projectID types.ProjectID, name string, self types.AgentID) error {
	existing, err := x.repo.GetAgentByName(ctx, projectID, name)
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			return nil
		}
		return goerr.Wrap(err, "failed to check agent name", goerr.TV(apperr.AgentNameKey, name))
	}
	if existing.ID == self {
		return nil
	}
	return goerr.Wrap(agent.ErrAgentNameConflict, "agent name is taken",
		goerr.TV(apperr.AgentNameKey, name),
		goerr.TV(apperr.AgentIDKey, existing.ID))
}

func (x *registryUseCaseImpl) checkProfileName(ctx context.Context, projectID types.ProjectID, name string, self types.ProfileID) error {
	existing, err := x.repo.GetModelProfileByName(ctx, projectID, name)
	if err != nil {
		if errors.Is(err, agent.ErrProfileNotFound) {
			return nil
		}
		return goerr.Wrap(err, "failed to check profile name", goerr.TV(apperr.ProfileNameKey, name))
	}
	if existing.ID == self {
		return nil
	}
	return goerr.Wrap(agent.ErrProfileNameConflict, "profile name is taken",
		goerr.TV(apperr.ProfileNameKey, name),
		goerr.TV(apperr.ProfileIDKey, existing.ID))
}

func (x *registryUseCaseImpl) CreateAgent(ctx context.Context, projectID types.ProjectID, req *interfaces.CreateAgentRequest) (*agent.Agent, error) {
	if err := agent.ValidateName(req.Name); err != nil {
		return nil, goerr.Wrap(err, "invalid agent name")
	}
	if err := x.checkAgentName(ctx, projectID, req.Name, ""); err != nil {
		return nil, err
	}

	a := agent.New(ctx, projectID, req.Name, req.Description)
	if err := x.repo.CreateAgent(ctx, a); err != nil {
		return nil, goerr.Wrap(err, "failed to create agent", goerr.TV(apperr.AgentNameKey, a.Name))
	}

	ctxlog.From(ctx).Info("agent created", "agent_id", a.ID, "name", a.Name)
	return a, nil
}

func (x *registryUseCaseImpl) detail(ctx context.Context, a *agent.Agent) (*interfaces.AgentDetail, error) {
	versions, err := x.repo.ListAgentVersions(ctx, a.ProjectID, a.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list versions", goerr.TV(apperr.AgentIDKey, a.ID))
	}

	d := &interfaces.AgentDetail{Agent: a, Versions: versions}
	for _, v := range versions {
		if v.IsActive {
			d.Active = v
			break
		}
	}
	return d, nil
}

func (x *registryUseCaseImpl) GetAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) (*interfaces.AgentDetail, error) {
	a, err := x.repo.GetAgent(ctx, projectID, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get agent", goerr.TV(apperr.AgentIDKey, id))
	}
	return x.detail(ctx, a)
}

func (x *registryUseCaseImpl) ListAgents(ctx context.Context, projectID types.ProjectID) ([]*interfaces.AgentDetail, error) {
	agents, err := x.repo.ListAgents(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list agents", goerr.TV(apperr.ProjectIDKey, projectID))
	}

	details := make([]*interfaces.AgentDetail, 0, len(agents))
	for _, a := range agents {
		d, err := x.detail(ctx, a)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

func (x *registryUseCaseImpl) UpdateAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID, req *interfaces.UpdateAgentRequest) (*agent.Agent, error) {
	a, err := x.repo.GetAgent(ctx, projectID, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get agent", goerr.TV(apperr.AgentIDKey, id))
	}

	if req.Name != nil {
		if err := agent.ValidateName(*req.Name); err != nil {
			return nil, goerr.Wrap(err, "invalid agent name")
		}
		if err := x.checkAgentName(ctx, projectID, *req.Name, a.ID); err != nil {
			return nil, err
		}
		a.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		a.Description = *req.Description
	}

	if err := x.repo.UpdateAgent(ctx, a); err != nil {
		return nil, goerr.Wrap(err, "failed to update agent", goerr.TV(apperr.AgentIDKey, id))
	}
	return a, nil
}

func (x *registryUseCaseImpl) DeleteAgent(ctx context.Context, projectID types.ProjectID, id types.AgentID) error {
	if err := x.repo.DeleteAgent(ctx, projectID, id); err != nil {
		return goerr.Wrap(err, "failed to delete agent", goerr.TV(apperr.AgentIDKey, id))
	}
	ctxlog.From(ctx).Info("agent deleted", "agent_id", id)
	return nil
}

// resolveCredential picks the credential source of a new version. A profile
// credential is copied, so later profile edits do not reach this version.
func (x *registryUseCaseImpl) resolveCredential(ctx context.Context, projectID types.ProjectID, req *interfaces.CreateVersionRequest) (agent.Credential, *types.ProfileID, error) {
	if req.ModelProfileID != nil {
		p, err := x.repo.GetModelProfile(ctx, projectID, *req.ModelProfileID)
		if err != nil {
			return agent.Credential{}, nil, goerr.Wrap(err, "failed to resolve model profile", goerr.TV(apperr.ProfileIDKey, *req.ModelProfileID))
		}
		id := p.ID
		return p.Credential(), &id, nil
	}

	if req.APIKey == "" {
		return agent.Credential{}, nil, goerr.Wrap(agent.ErrMissingCredential, "no credential source")
	}
	encrypted, err := x.encrypt(req.APIKey)
	if err != nil {
		return agent.Credential{}, nil, err
	}
	return agent.Credential{
		EncryptedAPIKey: encrypted,
		BaseURL:         strings.TrimSpace(req.BaseURL),
	}, nil, nil
}

func samplingParams(req *interfaces.CreateVersionRequest) (agent.SamplingParams, error) {
	params := agent.DefaultSamplingParams()
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		params.TopP = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = *req.PresencePenalty
	}
	params.StopSequences = req.StopSequences

	if err := params.Validate(); err != nil {
		return agent.SamplingParams{}, goerr.Wrap(err, "invalid sampling parameters")
	}
	return params, nil
}

func (x *registryUseCaseImpl) CreateVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, req *interfaces.CreateVersionRequest) (*agent.AgentVersion, error) {
	a, err := x.repo.GetAgent(ctx, projectID, agentID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get agent", goerr.TV(apperr.AgentIDKey, agentID))
	}

	modelName := strings.TrimSpace(req.ModelName)
	if modelName == "" {
		return nil, goerr.New("model_name is required", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.FieldKey, "model_name"))
	}
	params, err := samplingParams(req)
	if err != nil {
		return nil, err
	}
	cred, profileID, err := x.resolveCredential(ctx, projectID, req)
	if err != nil {
		return nil, err
	}

	v := agent.NewVersion(ctx, a, req.SystemPrompt, modelName, cred, params)
	v.ModelProfileID = profileID
	v.Notes = req.Notes

	if err := x.repo.CreateAgentVersion(ctx, v); err != nil {
		return nil, goerr.Wrap(err, "failed to create version", goerr.TV(apperr.AgentIDKey, agentID))
	}

	ctxlog.From(ctx).Info("version created",
		"agent_id", agentID,
		"version_id", v.ID,
		"version_number", v.VersionNumber,
		"model", v.ModelName,
		"from_profile", profileID != nil,
	)
	return v, nil
}

func (x *registryUseCaseImpl) GetVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	v, err := x.repo.GetAgentVersion(ctx, projectID, agentID, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get version", goerr.TV(apperr.AgentIDKey, agentID), goerr.TV(apperr.VersionIDKey, id))
	}
	return v, nil
}

func (x *registryUseCaseImpl) ListVersions(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) ([]*agent.AgentVersion, error) {
	versions, err := x.repo.ListAgentVersions(ctx, projectID, agentID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list versions", goerr.TV(apperr.AgentIDKey, agentID))
	}
	return versions, nil
}

func (x *registryUseCaseImpl) ActivateVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) (*agent.AgentVersion, error) {
	v, err := x.repo.ActivateAgentVersion(ctx, projectID, agentID, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to activate version", goerr.TV(apperr.AgentIDKey, agentID), goerr.TV(apperr.VersionIDKey, id))
	}
	ctxlog.From(ctx).Info("version activated", "agent_id", agentID, "version_id", id, "version_number", v.VersionNumber)
	return v, nil
}

func (x *registryUseCaseImpl) DeleteVersion(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, id types.VersionID) error {
	if err := x.repo.DeleteAgentVersion(ctx, projectID, agentID, id); err != nil {
		return goerr.Wrap(err, "failed to delete version", goerr.TV(apperr.AgentIDKey, agentID), goerr.TV(apperr.VersionIDKey, id))
	}
	ctxlog.From(ctx).Info("version deleted", "agent_id", agentID, "version_id", id)
	return nil
}

func (x *registryUseCaseImpl) CompareVersions(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, a, b int) (*interfaces.VersionComparison, error) {
	va, err := x.ResolveByNumber(ctx, projectID, agentID, a)
	if err != nil {
		return nil, err
	}
	vb, err := x.ResolveByNumber(ctx, projectID, agentID, b)
	if err != nil {
		return nil, err
	}

	diffs := agent.Compare(va, vb)
	if diffs == nil {
		diffs = []agent.FieldDiff{}
	}
	return &interfaces.VersionComparison{A: va, B: vb, Differences: diffs}, nil
}

func (x *registryUseCaseImpl) ResolveActive(ctx context.Context, projectID types.ProjectID, agentID types.AgentID) (*agent.AgentVersion, error) {
	v, err := x.repo.GetActiveAgentVersion(ctx, projectID, agentID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get active version", goerr.TV(apperr.AgentIDKey, agentID))
	}
	if v == nil {
		return nil, goerr.Wrap(agent.ErrNoActiveVersion, "agent has no active version", goerr.TV(apperr.AgentIDKey, agentID))
	}
	return v, nil
}

func (x *registryUseCaseImpl) ResolveByNumber(ctx context.Context, projectID types.ProjectID, agentID types.AgentID, number int) (*agent.AgentVersion, error) {
	v, err := x.repo.GetAgentVersionByNumber(ctx, projectID, agentID, number)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve version", goerr.TV(apperr.AgentIDKey, agentID), goerr.TV(apperr.VersionNumberKey, number))
	}
	return v, nil
}

func (x *registryUseCaseImpl) CreateProfile(ctx context.Context, projectID types.ProjectID, req *interfaces.CreateProfileRequest) (*agent.ModelProfile, error) {
	if err := agent.ValidateName(req.Name); err != nil {
		return nil, goerr.Wrap(err, "invalid profile name")
	}
	if req.APIKey == "" {
		return nil, goerr.New("api_key is required", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.FieldKey, "api_key"))
	}
	if err := x.checkProfileName(ctx, projectID, req.Name, ""); err != nil {
		return nil, err
	}

	encrypted, err := x.encrypt(req.APIKey)
	if err != nil {
		return nil, err
	}

	p := agent.NewModelProfile(ctx, projectID, req.Name, encrypted, strings.TrimSpace(req.BaseURL))
	if err := x.repo.CreateModelProfile(ctx, p); err != nil {
		return nil, goerr.Wrap(err, "failed to create profile", goerr.TV(apperr.ProfileNameKey, p.Name))
	}

	ctxlog.From(ctx).Info("model profile created", "profile_id", p.ID, "name", p.Name)
	return p, nil
}

func (x *registryUseCaseImpl) GetProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) (*agent.ModelProfile, error) {
	p, err := x.repo.GetModelProfile(ctx, projectID, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile", goerr.TV(apperr.ProfileIDKey, id))
	}
	return p, nil
}

func (x *registryUseCaseImpl) ListProfiles(ctx context.Context, projectID types.ProjectID) ([]*agent.ModelProfile, error) {
	profiles, err := x.repo.ListModelProfiles(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list profiles", goerr.TV(apperr.ProjectIDKey, projectID))
	}
	return profiles, nil
}

func (x *registryUseCaseImpl) UpdateProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID, req *interfaces.UpdateProfileRequest) (*agent.ModelProfile, error) {
	p, err := x.repo.GetModelProfile(ctx, projectID, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile", goerr.TV(apperr.ProfileIDKey, id))
	}

	if req.Name != nil {
		if err := agent.ValidateName(*req.Name); err != nil {
			return nil, goerr.Wrap(err, "invalid profile name")
		}
		if err := x.checkProfileName(ctx, projectID, *req.Name, p.ID); err != nil {
			return nil, err
		}
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.APIKey != nil {
		if *req.APIKey == "" {
			return nil, goerr.New("api_key must not be empty", goerr.T(apperr.ErrTagValidation), goerr.TV(apperr.FieldKey, "api_key"))
		}
		encrypted, err := x.encrypt(*req.APIKey)
		if err != nil {
			return nil, err
		}
		p.EncryptedAPIKey = encrypted
	}
	if req.BaseURL != nil {
		p.BaseURL = strings.TrimSpace(*req.BaseURL)
	}
	p.UpdatedAt = time.Now()

	if err := x.repo.UpdateModelProfile(ctx, p); err != nil {
		return nil, goerr.Wrap(err, "failed to update profile", goerr.TV(apperr.ProfileIDKey, id))
	}
	return p, nil
}

func (x *registryUseCaseImpl) DeleteProfile(ctx context.Context, projectID types.ProjectID, id types.ProfileID) error {
	if err := x.repo.DeleteModelProfile(ctx, projectID, id); err != nil {
		return goerr.Wrap(err, "failed to delete profile", goerr.TV(apperr.ProfileIDKey, id))
	}
	ctxlog.From(ctx).Info("model profile deleted", "profile_id", id)
	return nil
}

func (x *registryUseCaseImpl) MaskAPIKey(ctx context.Context, p *agent.ModelProfile) (string, error) {
	plaintext, err := x.decrypt(p.EncryptedAPIKey)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read profile key", goerr.TV(apperr.ProfileIDKey, p.ID))
	}
	return crypto.Mask(plaintext), nil
}
