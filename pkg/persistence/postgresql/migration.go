package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create transactions table
			CREATE TABLE transactions (
				workflow_id VARCHAR(255) NOT NULL,
				transaction_id VARCHAR(255) NOT NULL,
				definition JSONB,
				context JSONB,
				state VARCHAR(50) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (workflow_id, transaction_id)
			);

			CREATE INDEX idx_transactions_workflow_id ON transactions(workflow_id);
			CREATE INDEX idx_transactions_state ON transactions(state);
			CREATE INDEX idx_transactions_created_at ON transactions(created_at);
			CREATE INDEX idx_transactions_deleted_at ON transactions(deleted_at);
		`,
	}
}
