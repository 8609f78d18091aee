package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
)

// SaveLLMConfig upserts a model configuration keyed by provider and model.
func (s *SQLiteStorage) SaveLLMConfig(ctx context.Context, cfg *model.LLMConfig) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return saveLLMConfigTx(ctx, s.db, cfg)
}

func saveLLMConfigTx(ctx context.Context, q queryable, cfg *model.LLMConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: llm config", ErrNilParameter)
	}
	if err := validateString(cfg.Model, "model"); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO llm_configs (provider, model, base_url) VALUES (?, ?, ?)
		ON CONFLICT(provider, model) DO UPDATE SET base_url = excluded.base_url
	`, cfg.Provider, cfg.Model, cfg.BaseURL); err != nil {
		return fmt.Errorf("failed to save llm config: %w", err)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT id FROM llm_configs WHERE provider = ? AND model = ?`,
		cfg.Provider, cfg.Model).Scan(&cfg.ID); err != nil {
		return fmt.Errorf("failed to resolve llm config id: %w", err)
	}
	return nil
}

// SaveTool upserts a tool keyed by name.
func (s *SQLiteStorage) SaveTool(ctx context.Context, tool *model.Tool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return saveToolTx(ctx, s.db, tool)
}

func saveToolTx(ctx context.Context, q queryable, tool *model.Tool) error {
	if tool == nil {
		return fmt.Errorf("%w: tool", ErrNilParameter)
	}
	if err := validateString(tool.Name, "name"); err != nil {
		return err
	}
	if err := validateString(tool.Implementation, "implementation"); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO tools (name, description, implementation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			implementation = excluded.implementation,
			updated_at = excluded.updated_at
	`, tool.Name, tool.Description, tool.Implementation, now, now); err != nil {
		return fmt.Errorf("failed to save tool %s: %w", tool.Name, err)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM tools WHERE name = ?`, tool.Name,
	).Scan(&tool.ID, &tool.CreatedAt, &tool.UpdatedAt); err != nil {
		return fmt.Errorf("failed to resolve tool id: %w", err)
	}
	return nil
}

// SaveAgent upserts an agent with its model configuration and tool set.
// The stored tool list is replaced by agent.Tools.
func (s *SQLiteStorage) SaveAgent(ctx context.Context, agent *model.Agent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAgent(agent); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := saveLLMConfigTx(ctx, tx, &agent.LLM); err != nil {
			return err
		}
		for i := range agent.Tools {
			if err := saveToolTx(ctx, tx, &agent.Tools[i]); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agents (name, purpose, agent_type, prompt, llm_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				purpose = excluded.purpose,
				agent_type = excluded.agent_type,
				prompt = excluded.prompt,
				llm_id = excluded.llm_id
		`, agent.Name, agent.Purpose, string(agent.Type), agent.Prompt, agent.LLM.ID); err != nil {
			return fmt.Errorf("failed to save agent %s: %w", agent.Name, err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT id FROM agents WHERE name = ?`, agent.Name).Scan(&agent.ID); err != nil {
			return fmt.Errorf("failed to resolve agent id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_tools WHERE agent_id = ?`, agent.ID); err != nil {
			return fmt.Errorf("failed to clear agent tools: %w", err)
		}
		for i, tool := range agent.Tools {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO agent_tools (agent_id, tool_id, position) VALUES (?, ?, ?)`,
				agent.ID, tool.ID, i); err != nil {
				return fmt.Errorf("failed to attach tool %s: %w", tool.Name, err)
			}
		}
		return nil
	})
}

// GetAgentByName loads an agent with its model configuration and tools.
func (s *SQLiteStorage) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, agentSelect+` WHERE a.name = ?`, name)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %q: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	if agent.Tools, err = s.agentTools(ctx, agent.ID); err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents returns every agent ordered by name.
func (s *SQLiteStorage) ListAgents(ctx context.Context) ([]model.Agent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, agentSelect+` ORDER BY a.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	var agents []model.Agent
	for rows.Next() {
		agent, scanErr := scanAgent(rows)
		if scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan agent: %w", scanErr)
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	_ = rows.Close()

	// Tools are loaded after the cursor closes; the pool holds one connection.
	for i := range agents {
		if agents[i].Tools, err = s.agentTools(ctx, agents[i].ID); err != nil {
			return nil, err
		}
	}
	return agents, nil
}

const agentSelect = `
	SELECT a.id, a.name, a.purpose, a.agent_type, a.prompt,
	       l.id, l.provider, l.model, l.base_url
	FROM agents a
	JOIN llm_configs l ON l.id = a.llm_id`

func scanAgent(row rowScanner) (*model.Agent, error) {
	var (
		a         model.Agent
		agentType string
	)
	if err := row.Scan(
		&a.ID, &a.Name, &a.Purpose, &agentType, &a.Prompt,
		&a.LLM.ID, &a.LLM.Provider, &a.LLM.Model, &a.LLM.BaseURL,
	); err != nil {
		return nil, err
	}
	a.Type = model.AgentType(agentType)
	return &a, nil
}

func (s *SQLiteStorage) agentTools(ctx context.Context, agentID int64) ([]model.Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.description, t.implementation, t.created_at, t.updated_at
		FROM tools t
		JOIN agent_tools link ON link.tool_id = t.id
		WHERE link.agent_id = ?
		ORDER BY link.position
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent tools: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tools []model.Tool
	for rows.Next() {
		var t model.Tool
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Implementation, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}
