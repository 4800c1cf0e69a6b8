package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT false,
				target_type VARCHAR(50) NOT NULL CHECK (target_type IN ('application', 'contract')),
				trigger_type VARCHAR(50) NOT NULL CHECK (trigger_type IN ('entity_created', 'status_changed', 'stuck_at_status', 'time_delay')),
				trigger_config JSONB NOT NULL DEFAULT '{}',
				graph JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_active ON workflows(active);
			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type);

			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				target_type VARCHAR(50) NOT NULL,
				target_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				current_node_id VARCHAR(255),
				context JSONB NOT NULL DEFAULT '{}',
				last_error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- At most one non-terminal run per (workflow, target) pair. Insert
			-- races resolve here, not in application code.
			CREATE UNIQUE INDEX idx_executions_one_active
				ON executions(workflow_id, target_type, target_id)
				WHERE status IN ('pending', 'running');

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_completed_at ON executions(completed_at);

			CREATE TABLE continuations (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				workflow_id UUID NOT NULL,
				delay_node_id VARCHAR(255) NOT NULL,
				scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL,
				attempts INT NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('scheduled', 'running', 'executed', 'failed')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_continuations_due
				ON continuations(scheduled_for)
				WHERE status = 'scheduled';

			CREATE INDEX idx_continuations_execution_id ON continuations(execution_id);
			CREATE INDEX idx_continuations_updated_at ON continuations(updated_at);

			CREATE TABLE execution_trackers (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				target_type VARCHAR(50) NOT NULL,
				target_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_key VARCHAR(512) NOT NULL,
				run_once BOOLEAN NOT NULL DEFAULT false,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- One entry per firing condition per target.
			CREATE UNIQUE INDEX idx_execution_trackers_unique
				ON execution_trackers(workflow_id, target_type, target_id, trigger_key);

			CREATE INDEX idx_execution_trackers_pair
				ON execution_trackers(workflow_id, target_type, target_id);
			CREATE INDEX idx_execution_trackers_executed_at
				ON execution_trackers(executed_at);
		`,
		2: `
			CREATE TABLE applications (
				id VARCHAR(255) PRIMARY KEY,
				email VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(100) NOT NULL DEFAULT '',
				attributes JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_applications_status ON applications(status);
			CREATE INDEX idx_applications_updated_at ON applications(updated_at);
			CREATE INDEX idx_applications_created_at ON applications(created_at);

			CREATE TABLE contracts (
				id VARCHAR(255) PRIMARY KEY,
				email VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(100) NOT NULL DEFAULT '',
				attributes JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_contracts_status ON contracts(status);
			CREATE INDEX idx_contracts_updated_at ON contracts(updated_at);
			CREATE INDEX idx_contracts_created_at ON contracts(created_at);
		`,
	}
}
