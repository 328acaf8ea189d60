package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/postqode/agentdeploy/pkg/crypto"
	"github.com/postqode/agentdeploy/pkg/deployment"
)

const selectRecordFields = `
id, user_id, license_id, agent_id, platform, adapter, environment_name, runtime_version,
config, request_sealed, status, failed_step, error_message, external_id, access_url, artifact_ref,
created_at, updated_at, deployed_at, last_health_check, last_health_ok, stopped_at, deleted_at,
total_invocations, last_invocation`

var occupying = statusStrings(append(deployment.InFlightStatuses, deployment.StatusActive))

func statusStrings(statuses []deployment.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}

func (db *Database) seal(req deployment.Request) (string, error) {
	plain, err := req.Seal()
	if err != nil {
		return "", err
	}
	return crypto.EncryptHex(plain, db.encryptionKey)
}

func (db *Database) unseal(sealed string) (deployment.Request, error) {
	plain, err := crypto.DecryptHex(sealed, db.encryptionKey)
	if err != nil {
		return deployment.Request{}, fmt.Errorf("decrypt request: %w", err)
	}
	return deployment.UnsealRequest(plain)
}

func (db *Database) scanRecord(rows pgx.Rows) (*deployment.Record, error) {
	record := &deployment.Record{}
	var config []byte
	var sealed string
	var failedStep, errorMessage, externalID, artifactRef *string

	// see selectRecordFields
	err := rows.Scan(
		&record.ID,
		&record.UserID,
		&record.LicenseID,
		&record.AgentID,
		&record.Platform,
		&record.Adapter,
		&record.EnvironmentName,
		&record.RuntimeVersion,
		&config,
		&sealed,
		&record.Status,
		&failedStep,
		&errorMessage,
		&externalID,
		&record.AccessURL,
		&artifactRef,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.DeployedAt,
		&record.LastHealthCheck,
		&record.LastHealthOK,
		&record.StoppedAt,
		&record.DeletedAt,
		&record.TotalInvocations,
		&record.LastInvocation,
	)
	if err != nil {
		return nil, err
	}

	record.FailedStep = deref(failedStep)
	record.ErrorMessage = deref(errorMessage)
	record.ExternalID = deref(externalID)
	record.ArtifactRef = deref(artifactRef)

	err = json.Unmarshal(config, &record.Config)
	if err != nil {
		return nil, fmt.Errorf("decode config of %s: %w", record.ID, err)
	}
	record.Request, err = db.unseal(sealed)
	if err != nil {
		return nil, fmt.Errorf("deployment %s: %w", record.ID, err)
	}

	return record, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (db *Database) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*deployment.Record, error) {
	rows, err := db.timedQuery(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	records := make([]*deployment.Record, 0)
	defer rows.Close()
	for rows.Next() {
		record, err := db.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (db *Database) Create(ctx context.Context, record *deployment.Record) error {
	sealed, err := db.seal(record.Request)
	if err != nil {
		return fmt.Errorf("seal request: %w", err)
	}
	config, err := json.Marshal(record.Config)
	if err != nil {
		return err
	}

	query := `
INSERT INTO agent_deployment (id, user_id, license_id, agent_id, platform, adapter, environment_name,
                              runtime_version, config, request_sealed, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12);
`
	_, err = db.timedExec(ctx, query,
		record.ID,
		record.UserID,
		record.LicenseID,
		record.AgentID,
		record.Platform,
		record.Adapter,
		record.EnvironmentName,
		record.RuntimeVersion,
		config,
		sealed,
		record.Status,
		record.CreatedAt,
	)
	if IsErrUniqueViolation(err) {
		return duplicateEnvironment(record.LicenseID, record.EnvironmentName)
	}

	return err
}

func (db *Database) Get(ctx context.Context, id string) (*deployment.Record, error) {
	query := `SELECT ` + selectRecordFields + ` FROM agent_deployment WHERE id = $1;`
	records, err := db.queryRecords(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound(id)
	}
	return records[0], nil
}

// exec runs a single-row update and reports ErrNotFound when no live record matched.
func (db *Database) exec(ctx context.Context, id, query string, args ...interface{}) error {
	tag, err := db.timedExec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (db *Database) UpdateStatus(ctx context.Context, id string, update deployment.StatusUpdate) error {
	query := `
UPDATE agent_deployment
SET status        = $2::text,
    failed_step   = NULLIF($3, ''),
    error_message = NULLIF($4, ''),
    access_url    = CASE WHEN $2::text = 'active' THEN COALESCE(NULLIF($5, ''), access_url) END,
    deployed_at   = CASE WHEN $2::text = 'active' THEN now() ELSE deployed_at END,
    stopped_at    = CASE WHEN $2::text = 'stopped' THEN now() ELSE stopped_at END,
    updated_at    = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	err := db.exec(ctx, id, query,
		id,
		update.Status,
		update.FailedStep,
		deployment.TruncateMessage(update.ErrorMessage),
		update.AccessURL,
	)
	if IsErrUniqueViolation(err) {
		record, getErr := db.Get(ctx, id)
		if getErr != nil {
			return err
		}
		return duplicateEnvironment(record.LicenseID, record.EnvironmentName)
	}
	return err
}

func (db *Database) UpdateAttempt(ctx context.Context, id string, update deployment.AttemptUpdate) error {
	query := `
UPDATE agent_deployment
SET external_id     = COALESCE(NULLIF($2, ''), external_id),
    artifact_ref    = COALESCE(NULLIF($3, ''), artifact_ref),
    runtime_version = COALESCE(NULLIF($4, ''), runtime_version),
    updated_at      = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	return db.exec(ctx, id, query, id, update.ExternalID, update.ArtifactRef, update.RuntimeVersion)
}

func (db *Database) ResetForUpdate(ctx context.Context, id string, req deployment.Request, config map[string]interface{}) error {
	sealed, err := db.seal(req)
	if err != nil {
		return fmt.Errorf("seal request: %w", err)
	}
	encoded, err := json.Marshal(config)
	if err != nil {
		return err
	}

	query := `
UPDATE agent_deployment
SET status         = 'pending',
    adapter        = $2,
    config         = $3,
    request_sealed = $4,
    failed_step    = NULL,
    error_message  = NULL,
    access_url     = NULL,
    updated_at     = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	return db.exec(ctx, id, query, id, req.Adapter, encoded, sealed)
}

func (db *Database) RecordHealthCheck(ctx context.Context, id string, at time.Time, ok bool) error {
	query := `UPDATE agent_deployment SET last_health_check = $2, last_health_ok = $3 WHERE id = $1 AND deleted_at IS NULL;`
	return db.exec(ctx, id, query, id, at, ok)
}

func (db *Database) IncrementInvocationCount(ctx context.Context, id string) (int64, error) {
	var count int64
	query := `
UPDATE agent_deployment
SET total_invocations = total_invocations + 1,
    last_invocation   = now()
WHERE id = $1 AND deleted_at IS NULL
RETURNING total_invocations;
`
	err := db.timedQueryRow(ctx, query, []interface{}{id}, &count)
	if IsErrNotFound(err) {
		return 0, notFound(id)
	}
	return count, err
}

func (db *Database) Delete(ctx context.Context, id string) error {
	query := `
UPDATE agent_deployment
SET status     = 'deleted',
    access_url = NULL,
    deleted_at = now(),
    updated_at = now()
WHERE id = $1 AND deleted_at IS NULL;
`
	return db.exec(ctx, id, query, id)
}

func (db *Database) ListByUser(ctx context.Context, userID string, status deployment.Status) ([]*deployment.Record, error) {
	query := `
SELECT ` + selectRecordFields + `
FROM agent_deployment
WHERE user_id = $1 AND (($2 = '' AND status <> 'deleted') OR status = $2)
ORDER BY created_at DESC;
`
	return db.queryRecords(ctx, query, userID, status.String())
}

func (db *Database) FindActive(ctx context.Context, licenseID, environment string) (*deployment.Record, error) {
	query := `
SELECT ` + selectRecordFields + `
FROM agent_deployment
WHERE license_id = $1 AND environment_name = $2 AND status = 'active';
`
	records, err := db.queryRecords(ctx, query, licenseID, environment)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

func (db *Database) ListStale(ctx context.Context, statuses []deployment.Status, before time.Time) ([]*deployment.Record, error) {
	query := `
SELECT ` + selectRecordFields + `
FROM agent_deployment
WHERE status = ANY($1) AND updated_at < $2
ORDER BY updated_at ASC;
`
	return db.queryRecords(ctx, query, statusStrings(statuses), before)
}

func (db *Database) ListByStatus(ctx context.Context, status deployment.Status) ([]*deployment.Record, error) {
	query := `SELECT ` + selectRecordFields + ` FROM agent_deployment WHERE status = $1 ORDER BY updated_at ASC;`
	return db.queryRecords(ctx, query, status.String())
}

func (db *Database) SummaryStats(ctx context.Context, userID string) (deployment.Summary, error) {
	summary := deployment.Summary{}
	query := `
SELECT COUNT(*) FILTER (WHERE status <> 'deleted'),
       COUNT(*) FILTER (WHERE status = 'active'),
       COUNT(*) FILTER (WHERE status = 'stopped'),
       COUNT(*) FILTER (WHERE status = 'error'),
       COUNT(*) FILTER (WHERE status = ANY($2) AND status <> 'active'),
       COALESCE(SUM(total_invocations) FILTER (WHERE status <> 'deleted'), 0)
FROM agent_deployment
WHERE user_id = $1;
`
	err := db.timedQueryRow(ctx, query, []interface{}{userID, occupying},
		&summary.Total,
		&summary.Active,
		&summary.Stopped,
		&summary.Error,
		&summary.Pending,
		&summary.TotalInvocations,
	)
	return summary, err
}
