package database_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/postqode/agentdeploy/pkg/crypto"
	"github.com/postqode/agentdeploy/pkg/database"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDatabaseEnv = "AGENTDEPLOY_TEST_DATABASE_URL"
	hexKey          = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
)

func newRecord(license, environment string, status deployment.Status) *deployment.Record {
	req := deployment.Request{
		UserID:          "user-1",
		LicenseID:       license,
		AgentID:         "agent-1",
		Version:         "1.0.0",
		Platform:        "docker",
		EnvironmentName: environment,
		Port:            8080,
		EnvVars:         []deployment.EnvVar{{Name: "OPENAI_API_KEY", Value: "sk-secret", Secret: true}},
	}
	return &deployment.Record{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		LicenseID:       license,
		AgentID:         req.AgentID,
		Platform:        deployment.PlatformDocker,
		EnvironmentName: environment,
		Config:          map[string]interface{}{"memory_limit": "2g"},
		Request:         req,
		Status:          status,
		CreatedAt:       time.Now().Truncate(time.Microsecond),
	}
}

// stores returns every store implementation available in this environment.
func stores(t *testing.T) map[string]func(t *testing.T) database.DeploymentStore {
	impls := map[string]func(t *testing.T) database.DeploymentStore{
		"memory": func(t *testing.T) database.DeploymentStore {
			return database.NewMemoryStore()
		},
	}

	dsn := os.Getenv(testDatabaseEnv)
	if len(dsn) == 0 {
		t.Logf("%s not set, skipping postgres", testDatabaseEnv)
		return impls
	}
	impls["postgres"] = func(t *testing.T) database.DeploymentStore {
		key, err := crypto.KeyFromHexString(hexKey)
		require.NoError(t, err)
		db, err := database.New(context.Background(), dsn, key)
		require.NoError(t, err)
		t.Cleanup(db.Close)
		require.NoError(t, db.Migrate(context.Background()))
		return db
	}
	return impls
}

// Licenses are unique per test, so postgres runs share one schema without interfering.
func license() string {
	return "license-" + uuid.New().String()
}

func TestCreateAndGet(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			record := newRecord(license(), "production", deployment.StatusPending)

			require.NoError(t, store.Create(ctx, record))

			stored, err := store.Get(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, deployment.StatusPending, stored.Status)
			assert.Equal(t, record.LicenseID, stored.LicenseID)
			assert.Equal(t, "2g", stored.Config["memory_limit"])
			assert.Equal(t, "sk-secret", stored.Request.EnvVars[0].Value)
			assert.Nil(t, stored.AccessURL)

			_, err = store.Get(ctx, uuid.New().String())
			assert.True(t, database.IsErrNotFound(err))
		})
	}
}

func TestOneOccupyingRecordPerEnvironment(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			lic := license()

			first := newRecord(lic, "production", deployment.StatusPending)
			require.NoError(t, store.Create(ctx, first))

			err := store.Create(ctx, newRecord(lic, "production", deployment.StatusPending))
			assert.True(t, deployment.IsKind(err, deployment.KindDuplicateEnvironment))

			require.NoError(t, store.Create(ctx, newRecord(lic, "staging", deployment.StatusPending)))

			require.NoError(t, store.UpdateStatus(ctx, first.ID, deployment.StatusUpdate{Status: deployment.StatusError, FailedStep: "building", ErrorMessage: "boom"}))
			second := newRecord(lic, "production", deployment.StatusPending)
			require.NoError(t, store.Create(ctx, second))

			err = store.UpdateStatus(ctx, first.ID, deployment.StatusUpdate{Status: deployment.StatusPending})
			assert.True(t, deployment.IsKind(err, deployment.KindDuplicateEnvironment))
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			record := newRecord(license(), "production", deployment.StatusPending)
			require.NoError(t, store.Create(ctx, record))

			require.NoError(t, store.UpdateStatus(ctx, record.ID, deployment.StatusUpdate{Status: deployment.StatusActive, AccessURL: "http://localhost:8080"}))
			stored, err := store.Get(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, "http://localhost:8080", stored.URL())
			assert.NotNil(t, stored.DeployedAt)

			require.NoError(t, store.UpdateStatus(ctx, record.ID, deployment.StatusUpdate{Status: deployment.StatusActive}))
			stored, _ = store.Get(ctx, record.ID)
			assert.Equal(t, "http://localhost:8080", stored.URL())

			require.NoError(t, store.UpdateStatus(ctx, record.ID, deployment.StatusUpdate{Status: deployment.StatusStopped}))
			stored, _ = store.Get(ctx, record.ID)
			assert.Nil(t, stored.AccessURL)
			assert.NotNil(t, stored.StoppedAt)

			long := make([]byte, 700)
			for i := range long {
				long[i] = 'x'
			}
			require.NoError(t, store.UpdateStatus(ctx, record.ID, deployment.StatusUpdate{Status: deployment.StatusError, FailedStep: "verifying", ErrorMessage: string(long)}))
			stored, _ = store.Get(ctx, record.ID)
			assert.Equal(t, "verifying", stored.FailedStep)
			assert.Len(t, stored.ErrorMessage, deployment.MaxErrorMessageLength)
		})
	}
}

func TestAttemptAndReset(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			record := newRecord(license(), "production", deployment.StatusPending)
			require.NoError(t, store.Create(ctx, record))

			require.NoError(t, store.UpdateAttempt(ctx, record.ID, deployment.AttemptUpdate{ExternalID: "postqode-agent-1-abc", ArtifactRef: "img:1"}))
			require.NoError(t, store.UpdateAttempt(ctx, record.ID, deployment.AttemptUpdate{RuntimeVersion: "3.11"}))
			require.NoError(t, store.UpdateStatus(ctx, record.ID, deployment.StatusUpdate{Status: deployment.StatusActive, AccessURL: "http://a"}))

			req := record.Request
			req.Adapter = "langgraph"
			require.NoError(t, store.ResetForUpdate(ctx, record.ID, req, map[string]interface{}{"memory_limit": "4g"}))

			stored, err := store.Get(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, deployment.StatusPending, stored.Status)
			assert.Equal(t, "postqode-agent-1-abc", stored.ExternalID)
			assert.Equal(t, "img:1", stored.ArtifactRef)
			assert.Equal(t, "3.11", stored.RuntimeVersion)
			assert.Equal(t, "langgraph", stored.Adapter)
			assert.Equal(t, "4g", stored.Config["memory_limit"])
			assert.Nil(t, stored.AccessURL)
		})
	}
}

func TestCountersAndHealth(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			record := newRecord(license(), "production", deployment.StatusActive)
			require.NoError(t, store.Create(ctx, record))

			for i := int64(1); i <= 3; i++ {
				count, err := store.IncrementInvocationCount(ctx, record.ID)
				require.NoError(t, err)
				assert.Equal(t, i, count)
			}

			at := time.Now().Truncate(time.Microsecond)
			require.NoError(t, store.RecordHealthCheck(ctx, record.ID, at, true))

			stored, err := store.Get(ctx, record.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 3, stored.TotalInvocations)
			assert.NotNil(t, stored.LastInvocation)
			assert.True(t, at.Equal(*stored.LastHealthCheck))
			assert.True(t, *stored.LastHealthOK)

			_, err = store.IncrementInvocationCount(ctx, uuid.New().String())
			assert.True(t, database.IsErrNotFound(err))
		})
	}
}

func TestConcurrentInvocationCounts(t *testing.T) {
	const workers, perWorker = 16, 25

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			record := newRecord(license(), "production", deployment.StatusActive)
			require.NoError(t, store.Create(ctx, record))

			wg := sync.WaitGroup{}
			errs := make(chan error, workers*perWorker)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range perWorker {
						_, err := store.IncrementInvocationCount(ctx, record.ID)
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			stored, err := store.Get(ctx, record.ID)
			require.NoError(t, err)
			assert.EqualValues(t, workers*perWorker, stored.TotalInvocations)
		})
	}
}

func TestSummaryStats(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			lic := license()
			user := "user-" + uuid.New().String()

			statuses := []deployment.Status{
				deployment.StatusActive, deployment.StatusActive, deployment.StatusActive,
				deployment.StatusStopped, deployment.StatusError,
			}
			for i, status := range statuses {
				record := newRecord(lic, fmt.Sprintf("env-%d", i), status)
				record.UserID = user
				require.NoError(t, store.Create(ctx, record))
			}

			summary, err := store.SummaryStats(ctx, user)
			require.NoError(t, err)
			assert.Equal(t, deployment.Summary{Total: 5, Active: 3, Stopped: 1, Error: 1}, summary)

			empty, err := store.SummaryStats(ctx, "user-"+uuid.New().String())
			require.NoError(t, err)
			assert.Equal(t, deployment.Summary{}, empty)
		})
	}
}

func TestSoftDelete(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			lic := license()
			record := newRecord(lic, "production", deployment.StatusActive)
			require.NoError(t, store.Create(ctx, record))

			require.NoError(t, store.Delete(ctx, record.ID))

			stored, err := store.Get(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, deployment.StatusDeleted, stored.Status)
			assert.NotNil(t, stored.DeletedAt)

			assert.True(t, database.IsErrNotFound(store.Delete(ctx, record.ID)))
			assert.True(t, database.IsErrNotFound(store.UpdateStatus(ctx, record.ID, deployment.StatusUpdate{Status: deployment.StatusActive})))

			require.NoError(t, store.Create(ctx, newRecord(lic, "production", deployment.StatusPending)))
		})
	}
}

func TestQueries(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			lic := license()
			user := "user-" + uuid.New().String()

			records := map[deployment.Status]*deployment.Record{}
			for i, status := range []deployment.Status{deployment.StatusActive, deployment.StatusStopped, deployment.StatusError, deployment.StatusBuilding, deployment.StatusDeleted} {
				record := newRecord(lic, string(status), status)
				record.UserID = user
				record.CreatedAt = record.CreatedAt.Add(time.Duration(i) * time.Second)
				require.NoError(t, store.Create(ctx, record))
				records[status] = record
			}
			_, err := store.IncrementInvocationCount(ctx, records[deployment.StatusActive].ID)
			require.NoError(t, err)

			all, err := store.ListByUser(ctx, user, "")
			require.NoError(t, err)
			assert.Len(t, all, 4)
			assert.Equal(t, records[deployment.StatusBuilding].ID, all[0].ID)

			stopped, err := store.ListByUser(ctx, user, deployment.StatusStopped)
			require.NoError(t, err)
			require.Len(t, stopped, 1)
			assert.Equal(t, records[deployment.StatusStopped].ID, stopped[0].ID)

			active, err := store.FindActive(ctx, lic, string(deployment.StatusActive))
			require.NoError(t, err)
			assert.Equal(t, records[deployment.StatusActive].ID, active.ID)
			_, err = store.FindActive(ctx, lic, string(deployment.StatusStopped))
			assert.True(t, database.IsErrNotFound(err))

			stale, err := store.ListStale(ctx, deployment.InFlightStatuses, time.Now().Add(time.Hour))
			require.NoError(t, err)
			assert.Contains(t, ids(stale), records[deployment.StatusBuilding].ID)
			fresh, err := store.ListStale(ctx, deployment.InFlightStatuses, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			assert.NotContains(t, ids(fresh), records[deployment.StatusBuilding].ID)

			summary, err := store.SummaryStats(ctx, user)
			require.NoError(t, err)
			assert.Equal(t, deployment.Summary{Total: 4, Active: 1, Stopped: 1, Error: 1, Pending: 1, TotalInvocations: 1}, summary)
		})
	}
}

func ids(records []*deployment.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
