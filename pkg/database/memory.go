package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/postqode/agentdeploy/pkg/deployment"
)

// MemoryStore keeps records in process memory. It is used when no database is configured.
type MemoryStore struct {
	lock    sync.Mutex
	records map[string]*deployment.Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*deployment.Record),
		now:     time.Now,
	}
}

func clone(record *deployment.Record) *deployment.Record {
	c := *record
	return &c
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// occupied returns the record other than id that holds the license and environment slot.
func (m *MemoryStore) occupied(id, licenseID, environment string) bool {
	for _, r := range m.records {
		if r.ID != id && r.LicenseID == licenseID && r.EnvironmentName == environment && r.Status.Occupying() {
			return true
		}
	}
	return false
}

// live returns a record that has not been deleted.
func (m *MemoryStore) live(id string) (*deployment.Record, error) {
	record, ok := m.records[id]
	if !ok || record.DeletedAt != nil {
		return nil, notFound(id)
	}
	return record, nil
}

func (m *MemoryStore) Create(ctx context.Context, record *deployment.Record) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if record.Status.Occupying() && m.occupied(record.ID, record.LicenseID, record.EnvironmentName) {
		return duplicateEnvironment(record.LicenseID, record.EnvironmentName)
	}
	c := clone(record)
	c.UpdatedAt = c.CreatedAt
	m.records[record.ID] = c
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*deployment.Record, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(record), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, update deployment.StatusUpdate) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, err := m.live(id)
	if err != nil {
		return err
	}
	if update.Status.Occupying() && m.occupied(id, record.LicenseID, record.EnvironmentName) {
		return duplicateEnvironment(record.LicenseID, record.EnvironmentName)
	}

	now := m.now()
	record.Status = update.Status
	record.FailedStep = update.FailedStep
	record.ErrorMessage = deployment.TruncateMessage(update.ErrorMessage)
	switch update.Status {
	case deployment.StatusActive:
		if len(update.AccessURL) > 0 {
			url := update.AccessURL
			record.AccessURL = &url
		}
		record.DeployedAt = timePtr(now)
	case deployment.StatusStopped:
		record.AccessURL = nil
		record.StoppedAt = timePtr(now)
	default:
		record.AccessURL = nil
	}
	record.UpdatedAt = now
	return nil
}

func (m *MemoryStore) UpdateAttempt(ctx context.Context, id string, update deployment.AttemptUpdate) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, err := m.live(id)
	if err != nil {
		return err
	}
	if len(update.ExternalID) > 0 {
		record.ExternalID = update.ExternalID
	}
	if len(update.ArtifactRef) > 0 {
		record.ArtifactRef = update.ArtifactRef
	}
	if len(update.RuntimeVersion) > 0 {
		record.RuntimeVersion = update.RuntimeVersion
	}
	record.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ResetForUpdate(ctx context.Context, id string, req deployment.Request, config map[string]interface{}) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, err := m.live(id)
	if err != nil {
		return err
	}
	record.Status = deployment.StatusPending
	record.Adapter = req.Adapter
	record.Config = config
	record.Request = req
	record.FailedStep = ""
	record.ErrorMessage = ""
	record.AccessURL = nil
	record.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) RecordHealthCheck(ctx context.Context, id string, at time.Time, ok bool) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, err := m.live(id)
	if err != nil {
		return err
	}
	record.LastHealthCheck = timePtr(at)
	record.LastHealthOK = &ok
	return nil
}

func (m *MemoryStore) IncrementInvocationCount(ctx context.Context, id string) (int64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, err := m.live(id)
	if err != nil {
		return 0, err
	}
	record.TotalInvocations++
	record.LastInvocation = timePtr(m.now())
	return record.TotalInvocations, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, err := m.live(id)
	if err != nil {
		return err
	}
	now := m.now()
	record.Status = deployment.StatusDeleted
	record.AccessURL = nil
	record.DeletedAt = timePtr(now)
	record.UpdatedAt = now
	return nil
}

func (m *MemoryStore) list(match func(*deployment.Record) bool, less func(a, b *deployment.Record) bool) []*deployment.Record {
	m.lock.Lock()
	defer m.lock.Unlock()

	records := make([]*deployment.Record, 0)
	for _, r := range m.records {
		if match(r) {
			records = append(records, clone(r))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return less(records[i], records[j])
	})
	return records
}

func newestFirst(a, b *deployment.Record) bool {
	return a.CreatedAt.After(b.CreatedAt)
}

func oldestUpdateFirst(a, b *deployment.Record) bool {
	return a.UpdatedAt.Before(b.UpdatedAt)
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, status deployment.Status) ([]*deployment.Record, error) {
	return m.list(func(r *deployment.Record) bool {
		if r.UserID != userID {
			return false
		}
		if len(status) == 0 {
			return r.Status != deployment.StatusDeleted
		}
		return r.Status == status
	}, newestFirst), nil
}

func (m *MemoryStore) FindActive(ctx context.Context, licenseID, environment string) (*deployment.Record, error) {
	records := m.list(func(r *deployment.Record) bool {
		return r.LicenseID == licenseID && r.EnvironmentName == environment && r.Status == deployment.StatusActive
	}, newestFirst)
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

func (m *MemoryStore) ListStale(ctx context.Context, statuses []deployment.Status, before time.Time) ([]*deployment.Record, error) {
	return m.list(func(r *deployment.Record) bool {
		if !r.UpdatedAt.Before(before) {
			return false
		}
		for _, s := range statuses {
			if r.Status == s {
				return true
			}
		}
		return false
	}, oldestUpdateFirst), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status deployment.Status) ([]*deployment.Record, error) {
	return m.list(func(r *deployment.Record) bool {
		return r.Status == status
	}, oldestUpdateFirst), nil
}

func (m *MemoryStore) SummaryStats(ctx context.Context, userID string) (deployment.Summary, error) {
	summary := deployment.Summary{}
	for _, r := range m.list(func(r *deployment.Record) bool { return r.UserID == userID }, newestFirst) {
		summary.Add(r.Status, r.TotalInvocations)
	}
	return summary, nil
}
