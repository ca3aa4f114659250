package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

func testDeployment() *Deployment {
	return &Deployment{
		Name:        "web-cluster",
		CloudRegion: "region-one",
		Template: Template{
			NetworkConfig: NetworkConfig{CIDR: "192.168.1.0/24"},
			VMConfig:      VMConfig{Flavor: "m1.small", Image: "ubuntu-22.04", Count: 2},
		},
	}
}

func TestCreateAndGetDeployment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment()
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatalf("CreateDeployment failed: %v", err)
	}
	if d.ID == uuid.Nil {
		t.Fatal("expected an id to be assigned")
	}
	if d.Status != StatusPending {
		t.Errorf("expected default status PENDING, got %s", d.Status)
	}

	got, err := store.GetDeployment(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if got.Name != "web-cluster" || got.CloudRegion != "region-one" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Template.VMConfig.Count != 2 || got.Template.NetworkConfig.CIDR != "192.168.1.0/24" {
		t.Errorf("template not round-tripped: %+v", got.Template)
	}
	if got.Resources != nil || got.Error != nil {
		t.Errorf("fresh deployments must have no resources or error: %+v", got)
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetDeployment(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateDeploymentStatusAndResources(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment()
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatal(err)
	}

	status := StatusInProgress
	if _, err := store.UpdateDeployment(ctx, d.ID, DeploymentUpdate{Status: &status}); err != nil {
		t.Fatalf("status update failed: %v", err)
	}

	status = StatusCompleted
	res := &Resources{
		NetworkID: "net-1",
		SubnetID:  "subnet-1",
		ServerIDs: []string{"srv-1", "srv-2"},
		Extra:     map[string]any{"floating_ip": "203.0.113.7"},
	}
	updated, err := store.UpdateDeployment(ctx, d.ID, DeploymentUpdate{Status: &status, Resources: res})
	if err != nil {
		t.Fatalf("completion update failed: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", updated.Status)
	}
	if updated.Resources == nil || updated.Resources.NetworkID != "net-1" ||
		len(updated.Resources.ServerIDs) != 2 {
		t.Errorf("resources not persisted: %+v", updated.Resources)
	}
	if updated.Resources.Extra["floating_ip"] != "203.0.113.7" {
		t.Errorf("extra keys not persisted: %v", updated.Resources.Extra)
	}
	if updated.UpdatedAt.Before(d.UpdatedAt) {
		t.Error("updated_at must not move backwards")
	}
}

func TestUpdateClearsErrorOnCompletion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment()
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatal(err)
	}

	failed := StatusFailed
	if _, err := store.UpdateDeployment(ctx, d.ID, DeploymentUpdate{
		Status: &failed,
		Error:  &ErrorInfo{Message: "quota exceeded", Type: "remote"},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDeployment(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error == nil || got.Error.Message != "quota exceeded" {
		t.Fatalf("error payload not persisted: %+v", got.Error)
	}

	// A successful retry clears the stale error.
	completed := StatusCompleted
	updated, err := store.UpdateDeployment(ctx, d.ID, DeploymentUpdate{Status: &completed})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Error != nil {
		t.Errorf("error must be cleared on COMPLETED, got %+v", updated.Error)
	}
}

func TestUpdateStampsDeletedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment()
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatal(err)
	}

	deleted := StatusDeleted
	updated, err := store.UpdateDeployment(ctx, d.ID, DeploymentUpdate{Status: &deleted})
	if err != nil {
		t.Fatal(err)
	}
	if updated.DeletedAt == nil {
		t.Error("deleted_at must be set on DELETED")
	}
}

func TestUpdateDeploymentNotFound(t *testing.T) {
	store := newTestStore(t)
	status := StatusInProgress
	_, err := store.UpdateDeployment(context.Background(), uuid.New(), DeploymentUpdate{Status: &status})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndCountDeployments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, region := range []string{"region-one", "region-one", "region-two"} {
		d := testDeployment()
		d.CloudRegion = region
		if i == 2 {
			d.Status = StatusCompleted
		}
		if err := store.CreateDeployment(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListDeployments(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListDeployments failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 deployments, got %d", len(all))
	}

	byRegion, err := store.ListDeployments(ctx, ListFilter{CloudRegion: "region-one"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byRegion) != 2 {
		t.Errorf("expected 2 deployments in region-one, got %d", len(byRegion))
	}

	completed := StatusCompleted
	count, err := store.CountDeployments(ctx, ListFilter{Status: &completed})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 completed deployment, got %d", count)
	}
}

func TestDeleteAndExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment()
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatal(err)
	}

	ok, err := store.Exists(ctx, d.ID)
	if err != nil || !ok {
		t.Fatalf("expected deployment to exist, got %v/%v", ok, err)
	}

	if err := store.DeleteDeployment(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDeployment failed: %v", err)
	}

	ok, err = store.Exists(ctx, d.ID)
	if err != nil || ok {
		t.Errorf("expected deployment to be gone, got %v/%v", ok, err)
	}
	if err := store.DeleteDeployment(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
