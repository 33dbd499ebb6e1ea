package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/missionctl/internal/store"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

// SeedFile declares the workspaces and agents loaded at startup.
type SeedFile struct {
	Workspaces []SeedWorkspace `yaml:"workspaces"`
	Agents     []SeedAgent     `yaml:"agents"`
}

// SeedWorkspace is one workspace declaration.
type SeedWorkspace struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Slug          string `yaml:"slug"`
	MasterAgentID string `yaml:"master_agent_id,omitempty"`
}

// SeedAgent is one agent declaration.
type SeedAgent struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	WorkspaceID string `yaml:"workspace_id"`
	Status      string `yaml:"status,omitempty"`
	IsMaster    bool   `yaml:"is_master,omitempty"`
	SessionKey  string `yaml:"session_key,omitempty"`
}

// LoadSeed parses a YAML seed file.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("unmarshal seed: %w", err)
	}
	return &seed, nil
}

// ApplySeed writes the declared workspaces and agents into the store.
func ApplySeed(ctx context.Context, st *store.Store, seed *SeedFile) error {
	for _, w := range seed.Workspaces {
		ws := &tasks.Workspace{ID: w.ID, Name: w.Name, Slug: w.Slug, MasterAgentID: w.MasterAgentID}
		if err := st.PutWorkspace(ctx, ws); err != nil {
			return fmt.Errorf("seed workspace %s: %w", w.Slug, err)
		}
	}
	for _, a := range seed.Agents {
		agent := &tasks.Agent{
			ID:          a.ID,
			Name:        a.Name,
			WorkspaceID: a.WorkspaceID,
			Status:      tasks.AgentStatus(a.Status),
			IsMaster:    a.IsMaster,
			SessionKey:  a.SessionKey,
		}
		if err := st.PutAgent(ctx, agent); err != nil {
			return fmt.Errorf("seed agent %s: %w", a.ID, err)
		}
	}
	return nil
}
