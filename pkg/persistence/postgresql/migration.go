package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL CHECK (trigger_type IN ('event', 'schedule', 'webhook', 'manual')),
				trigger_config JSONB,
				actions JSONB NOT NULL DEFAULT '[]',
				conditions JSONB,
				is_active BOOLEAN NOT NULL DEFAULT false,
				tags JSONB,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_owner_id ON workflows(owner_id);
			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type);
			CREATE INDEX idx_workflows_is_active ON workflows(is_active);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE schedules (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				cron_expression VARCHAR(255) NOT NULL,
				timezone VARCHAR(255) NOT NULL DEFAULT '',
				next_run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				starts_at TIMESTAMP WITH TIME ZONE,
				ends_at TIMESTAMP WITH TIME ZONE,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_schedules_workflow_id ON schedules(workflow_id);
			CREATE INDEX idx_schedules_next_run_at ON schedules(next_run_at) WHERE is_active;

			CREATE TABLE webhooks (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				endpoint_id VARCHAR(255) NOT NULL,
				secret VARCHAR(255),
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_webhooks_workflow_id ON webhooks(workflow_id);
			CREATE UNIQUE INDEX idx_webhooks_active_endpoint ON webhooks(endpoint_id) WHERE is_active;

			CREATE TABLE event_subscriptions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				event_type VARCHAR(255) NOT NULL,
				event_filters JSONB,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_event_subscriptions_event_type ON event_subscriptions(event_type) WHERE is_active;
			CREATE INDEX idx_event_subscriptions_workflow_id ON event_subscriptions(workflow_id);

			CREATE TABLE variables (
				scope VARCHAR(50) NOT NULL CHECK (scope IN ('workflow', 'global')),
				workflow_id VARCHAR(255) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL,
				value JSONB,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (scope, workflow_id, name)
			);

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'waiting', 'completed', 'failed', 'cancelled')),
				trigger_data JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error TEXT,
				test_mode BOOLEAN NOT NULL DEFAULT false,
				step_results JSONB NOT NULL DEFAULT '[]',
				resume_at TIMESTAMP WITH TIME ZONE,
				resume_order INTEGER NOT NULL DEFAULT 0,
				running_ms BIGINT NOT NULL DEFAULT 0,
				cancel_requested BOOLEAN NOT NULL DEFAULT false,
				partial_failure BOOLEAN NOT NULL DEFAULT false,
				worker_id VARCHAR(255)
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_owner_id ON workflow_executions(owner_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_resume_at ON workflow_executions(resume_at) WHERE status = 'waiting';
			CREATE INDEX idx_workflow_executions_started_at ON workflow_executions(started_at);
		`,
	}
}
