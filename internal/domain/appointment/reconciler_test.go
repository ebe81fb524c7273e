package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calsync/calsync/internal/domain/credential"
	"github.com/calsync/calsync/internal/platform/provider"
)

type mockStore struct {
	tokens map[string]*credential.Token
}

func (m *mockStore) GetToken(ctx context.Context, accountID string) (*credential.Token, error) {
	token, ok := m.tokens[accountID]
	if !ok {
		return nil, credential.ErrNotConnected
	}
	return token, nil
}

type mockProvider struct {
	identity    *provider.Identity
	meErr       error
	events      []provider.Event
	eventsErr   error
	invitees    map[string][]provider.Invitee
	inviteeErrs map[string]error
}

func (m *mockProvider) Me(ctx context.Context, accessToken string) (*provider.Identity, error) {
	if m.meErr != nil {
		return nil, m.meErr
	}
	return m.identity, nil
}

func (m *mockProvider) ListActiveEvents(ctx context.Context, accessToken, userURI string, pageSize int) ([]provider.Event, error) {
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	return m.events, nil
}

func (m *mockProvider) ListInvitees(ctx context.Context, accessToken, eventURI string) ([]provider.Invitee, error) {
	if err, ok := m.inviteeErrs[eventURI]; ok {
		return nil, err
	}
	return m.invitees[eventURI], nil
}

type mockApptRepo struct {
	mu                 sync.Mutex
	byURI              map[string]*Appointment
	upsertErr          error
	upsertCalls        int
	deleteExpiredCalls int
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{byURI: make(map[string]*Appointment)}
}

func (m *mockApptRepo) UpsertByEventURI(ctx context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if existing, ok := m.byURI[appt.EventURI]; ok {
		appt.ID = existing.ID
		appt.CreatedAt = existing.CreatedAt
	} else if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	copied := *appt
	m.byURI[appt.EventURI] = &copied
	return nil
}

func (m *mockApptRepo) DeleteExpired(ctx context.Context, accountID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteExpiredCalls++
	var purged int64
	for uri, appt := range m.byURI {
		if appt.AccountID == accountID && appt.EndTime.Before(now) {
			delete(m.byURI, uri)
			purged++
		}
	}
	return purged, nil
}

func (m *mockApptRepo) ListByAccount(ctx context.Context, accountID string) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appts := []Appointment{}
	for _, appt := range m.byURI {
		if appt.AccountID == accountID {
			appts = append(appts, *appt)
		}
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartTime.Before(appts[j].StartTime) })
	return appts, nil
}

func (m *mockApptRepo) List(ctx context.Context, accountID string, limit, offset int) ([]Appointment, int, error) {
	appts, err := m.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	total := len(appts)
	if offset > len(appts) {
		offset = len(appts)
	}
	appts = appts[offset:]
	if limit < len(appts) {
		appts = appts[:limit]
	}
	return appts, total, nil
}

func (m *mockApptRepo) Delete(ctx context.Context, accountID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri, appt := range m.byURI {
		if appt.AccountID == accountID && appt.ID == id {
			delete(m.byURI, uri)
			return nil
		}
	}
	return ErrNotFound
}

func tp(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", value, err)
	}
	return &parsed
}

func testReconciler(store *mockStore, client *mockProvider, repo *mockApptRepo) *Reconciler {
	r := NewReconciler(store, client, repo, 4, 50, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC) }
	return r
}

func connectedStore() *mockStore {
	return &mockStore{tokens: map[string]*credential.Token{
		"acct-1": {AccessToken: "tok"},
	}}
}

func TestSynchronize_SingleEventWithInvitee(t *testing.T) {
	repo := newMockApptRepo()
	client := &mockProvider{
		identity: &provider.Identity{URI: "https://api.example.com/users/u"},
		events: []provider.Event{
			{URI: "u1", StartTime: tp(t, "2024-01-10T10:00:00Z"), EndTime: tp(t, "2024-01-10T10:30:00Z"), Status: "active"},
		},
		invitees: map[string][]provider.Invitee{
			"u1": {{Email: "Pat@Example.com", Status: "active"}},
		},
	}

	result, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Appointments) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(result.Appointments))
	}
	appt := result.Appointments[0]
	if appt.AccountID != "acct-1" || appt.EventURI != "u1" {
		t.Errorf("unexpected appointment: %+v", appt)
	}
	if appt.PatientEmail != "pat@example.com" {
		t.Errorf("expected normalized patient email, got %q", appt.PatientEmail)
	}
	if appt.Status != "active" {
		t.Errorf("expected active status, got %q", appt.Status)
	}
	if result.Upserted != 1 || result.Skipped != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}
}

func TestSynchronize_Idempotent(t *testing.T) {
	repo := newMockApptRepo()
	client := &mockProvider{
		identity: &provider.Identity{URI: "https://api.example.com/users/u"},
		events: []provider.Event{
			{URI: "u1", StartTime: tp(t, "2024-01-10T10:00:00Z"), EndTime: tp(t, "2024-01-10T10:30:00Z"), Status: "active"},
			{URI: "u2", StartTime: tp(t, "2024-01-11T09:00:00Z"), EndTime: tp(t, "2024-01-11T09:30:00Z"), Status: "active"},
		},
	}
	r := testReconciler(connectedStore(), client, repo)

	first, err := r.Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first.Appointments) != 2 || len(second.Appointments) != 2 {
		t.Fatalf("expected 2 appointments on both passes, got %d then %d", len(first.Appointments), len(second.Appointments))
	}
	for i := range first.Appointments {
		a, b := first.Appointments[i], second.Appointments[i]
		if a.ID != b.ID || a.EventURI != b.EventURI || !a.StartTime.Equal(b.StartTime) {
			t.Errorf("pass 2 changed appointment %d: %+v vs %+v", i, a, b)
		}
	}
}

func TestSynchronize_UpsertUpdatesInPlace(t *testing.T) {
	repo := newMockApptRepo()
	existingID := uuid.New()
	repo.byURI["E1"] = &Appointment{
		ID:        existingID,
		AccountID: "acct-1",
		EventURI:  "E1",
		StartTime: *tp(t, "2024-01-10T10:00:00Z"),
		EndTime:   *tp(t, "2024-01-10T10:30:00Z"),
		Status:    "active",
	}
	client := &mockProvider{
		identity: &provider.Identity{URI: "https://api.example.com/users/u"},
		events: []provider.Event{
			{URI: "E1", StartTime: tp(t, "2024-01-12T14:00:00Z"), EndTime: tp(t, "2024-01-12T14:30:00Z"), Status: "active"},
		},
	}

	result, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Appointments) != 1 {
		t.Fatalf("expected the record to be updated in place, got %d records", len(result.Appointments))
	}
	appt := result.Appointments[0]
	if appt.ID != existingID {
		t.Errorf("expected existing row to be reused, got new id %s", appt.ID)
	}
	if !appt.StartTime.Equal(*tp(t, "2024-01-12T14:00:00Z")) {
		t.Errorf("start time not updated: %v", appt.StartTime)
	}
}

func TestSynchronize_PurgesExpiredNotInUpstream(t *testing.T) {
	repo := newMockApptRepo()
	repo.byURI["u2"] = &Appointment{
		ID:        uuid.New(),
		AccountID: "acct-1",
		EventURI:  "u2",
		StartTime: *tp(t, "2019-12-31T23:00:00Z"),
		EndTime:   *tp(t, "2020-01-01T00:00:00Z"),
		Status:    "active",
	}
	client := &mockProvider{identity: &provider.Identity{URI: "https://api.example.com/users/u"}}

	result, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Appointments) != 0 {
		t.Errorf("expected empty snapshot, got %d", len(result.Appointments))
	}
	if result.Purged != 1 {
		t.Errorf("expected 1 purged record, got %d", result.Purged)
	}
}

func TestSynchronize_KeepsCanceledFutureAppointments(t *testing.T) {
	repo := newMockApptRepo()
	repo.byURI["u3"] = &Appointment{
		ID:        uuid.New(),
		AccountID: "acct-1",
		EventURI:  "u3",
		StartTime: *tp(t, "2024-02-01T10:00:00Z"),
		EndTime:   *tp(t, "2024-02-01T10:30:00Z"),
		Status:    "canceled",
	}
	client := &mockProvider{identity: &provider.Identity{URI: "https://api.example.com/users/u"}}

	result, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Appointments) != 1 {
		t.Fatalf("future canceled appointment should survive the purge, got %d records", len(result.Appointments))
	}
}

func TestSynchronize_InviteeFailureDoesNotBlockOthers(t *testing.T) {
	repo := newMockApptRepo()
	client := &mockProvider{
		identity: &provider.Identity{URI: "https://api.example.com/users/u"},
		events: []provider.Event{
			{URI: "E1", StartTime: tp(t, "2024-01-10T10:00:00Z"), EndTime: tp(t, "2024-01-10T10:30:00Z"), Status: "active"},
			{URI: "E2", StartTime: tp(t, "2024-01-11T10:00:00Z"), EndTime: tp(t, "2024-01-11T10:30:00Z"), Status: "active"},
			{URI: "E3", StartTime: tp(t, "2024-01-12T10:00:00Z"), EndTime: tp(t, "2024-01-12T10:30:00Z"), Status: "active"},
		},
		invitees: map[string][]provider.Invitee{
			"E1": {{Email: "one@example.com"}},
			"E3": {{Email: "three@example.com"}},
		},
		inviteeErrs: map[string]error{
			"E2": &provider.UpstreamError{Op: "list invitees", StatusCode: 500},
		},
	}

	result, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Appointments) != 3 {
		t.Fatalf("expected all 3 events upserted, got %d", len(result.Appointments))
	}
	byURI := map[string]Appointment{}
	for _, appt := range result.Appointments {
		byURI[appt.EventURI] = appt
	}
	if byURI["E1"].PatientEmail != "one@example.com" {
		t.Errorf("E1 email: %q", byURI["E1"].PatientEmail)
	}
	if byURI["E2"].PatientEmail != "" {
		t.Errorf("E2 should fall back to empty email, got %q", byURI["E2"].PatientEmail)
	}
	if byURI["E3"].PatientEmail != "three@example.com" {
		t.Errorf("E3 email: %q", byURI["E3"].PatientEmail)
	}
}

func TestSynchronize_SkipsMalformedEvents(t *testing.T) {
	repo := newMockApptRepo()
	client := &mockProvider{
		identity: &provider.Identity{URI: "https://api.example.com/users/u"},
		events: []provider.Event{
			{URI: "good", StartTime: tp(t, "2024-01-10T10:00:00Z"), EndTime: tp(t, "2024-01-10T10:30:00Z"), Status: "active"},
			{URI: "no-start", EndTime: tp(t, "2024-01-10T11:00:00Z"), Status: "active"},
			{URI: "", StartTime: tp(t, "2024-01-10T12:00:00Z"), EndTime: tp(t, "2024-01-10T12:30:00Z"), Status: "active"},
		},
	}

	result, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Appointments) != 1 || result.Appointments[0].EventURI != "good" {
		t.Fatalf("expected only the well-formed event, got %+v", result.Appointments)
	}
	if result.Skipped != 2 {
		t.Errorf("expected 2 skipped events, got %d", result.Skipped)
	}
}

func TestSynchronize_FailsFastOnEventListing(t *testing.T) {
	repo := newMockApptRepo()
	client := &mockProvider{
		identity:  &provider.Identity{URI: "https://api.example.com/users/u"},
		eventsErr: &provider.UpstreamError{Op: "list events", StatusCode: 503},
	}

	_, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	var upstreamErr *provider.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if repo.upsertCalls != 0 {
		t.Errorf("upsert should never run after a listing failure, got %d calls", repo.upsertCalls)
	}
	if repo.deleteExpiredCalls != 0 {
		t.Errorf("purge should never run after a listing failure, got %d calls", repo.deleteExpiredCalls)
	}
}

func TestSynchronize_FailsFastOnIdentity(t *testing.T) {
	repo := newMockApptRepo()
	client := &mockProvider{meErr: &provider.AuthError{Op: "me", StatusCode: 401}}

	_, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	var authErr *provider.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if repo.upsertCalls != 0 || repo.deleteExpiredCalls != 0 {
		t.Error("repository should be untouched after an identity failure")
	}
}

func TestSynchronize_NotConnected(t *testing.T) {
	repo := newMockApptRepo()
	store := &mockStore{tokens: map[string]*credential.Token{}}
	client := &mockProvider{identity: &provider.Identity{URI: "u"}}

	_, err := testReconciler(store, client, repo).Synchronize(context.Background(), "acct-1")
	if !errors.Is(err, credential.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if repo.upsertCalls != 0 || repo.deleteExpiredCalls != 0 {
		t.Error("repository should be untouched when no credential exists")
	}
}

func TestSynchronize_DuplicateEventURILastWriteWins(t *testing.T) {
	repo := newMockApptRepo()
	client := &mockProvider{
		identity: &provider.Identity{URI: "https://api.example.com/users/u"},
		events: []provider.Event{
			{URI: "dup", StartTime: tp(t, "2024-01-10T10:00:00Z"), EndTime: tp(t, "2024-01-10T10:30:00Z"), Status: "active"},
			{URI: "dup", StartTime: tp(t, "2024-01-15T16:00:00Z"), EndTime: tp(t, "2024-01-15T16:30:00Z"), Status: "active"},
		},
	}

	// fanout 1 makes the loop sequential, so fetch order decides.
	r := NewReconciler(connectedStore(), client, repo, 1, 50, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC) }

	result, err := r.Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Appointments) != 1 {
		t.Fatalf("expected one record for the shared uri, got %d", len(result.Appointments))
	}
	if !result.Appointments[0].StartTime.Equal(*tp(t, "2024-01-15T16:00:00Z")) {
		t.Errorf("expected the later event to win, got start %v", result.Appointments[0].StartTime)
	}
}

func TestSynchronize_PurgeRunsWhenEveryUpsertFails(t *testing.T) {
	repo := newMockApptRepo()
	repo.upsertErr = errors.New("write rejected")
	repo.byURI["stale"] = &Appointment{
		ID:        uuid.New(),
		AccountID: "acct-1",
		EventURI:  "stale",
		StartTime: *tp(t, "2019-12-31T23:00:00Z"),
		EndTime:   *tp(t, "2020-01-01T00:00:00Z"),
		Status:    "active",
	}
	client := &mockProvider{
		identity: &provider.Identity{URI: "https://api.example.com/users/u"},
		events: []provider.Event{
			{URI: "E1", StartTime: tp(t, "2024-01-10T10:00:00Z"), EndTime: tp(t, "2024-01-10T10:30:00Z"), Status: "active"},
			{URI: "E2", StartTime: tp(t, "2024-01-11T10:00:00Z"), EndTime: tp(t, "2024-01-11T10:30:00Z"), Status: "active"},
		},
	}

	result, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("upsert failures must not fail the pass: %v", err)
	}
	if repo.deleteExpiredCalls != 1 {
		t.Errorf("purge must still run, got %d calls", repo.deleteExpiredCalls)
	}
	if result.Purged != 1 {
		t.Errorf("expected the stale record purged, got %d", result.Purged)
	}
	if result.Upserted != 0 || result.Skipped != 2 {
		t.Errorf("unexpected counts: upserted=%d skipped=%d", result.Upserted, result.Skipped)
	}
	if _, ok := repo.byURI["stale"]; ok {
		t.Error("stale record should be gone")
	}
}

func TestSynchronize_SnapshotOrderedByStartTime(t *testing.T) {
	repo := newMockApptRepo()
	client := &mockProvider{
		identity: &provider.Identity{URI: "https://api.example.com/users/u"},
		events: []provider.Event{
			{URI: "later", StartTime: tp(t, "2024-03-01T10:00:00Z"), EndTime: tp(t, "2024-03-01T10:30:00Z"), Status: "active"},
			{URI: "earlier", StartTime: tp(t, "2024-02-01T10:00:00Z"), EndTime: tp(t, "2024-02-01T10:30:00Z"), Status: "active"},
		},
	}

	result, err := testReconciler(connectedStore(), client, repo).Synchronize(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Appointments) != 2 {
		t.Fatalf("expected 2 appointments, got %d", len(result.Appointments))
	}
	if result.Appointments[0].EventURI != "earlier" || result.Appointments[1].EventURI != "later" {
		t.Errorf("snapshot not ordered by start time: %+v", result.Appointments)
	}
}
