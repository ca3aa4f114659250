package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/openmesa/openmesa/pkg/stores"
)

func TestDeleteNoResourcesIsImmediateSuccess(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	store := newMockStore(d)
	cloud := newMockCloud()
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunDeleteWorkflow(context.Background(), DeleteInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if cloud.totalCalls() != 0 {
		t.Error("deleting an empty deployment must not call the cloud API")
	}

	got := store.statuses()
	if len(got) != 2 || got[0] != stores.StatusDeleting || got[1] != stores.StatusDeleted {
		t.Errorf("expected DELETING then DELETED, got %v", got)
	}
	if store.current().DeletedAt == nil {
		t.Error("expected deleted_at to be set")
	}
}

func TestDeleteSuccess(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	d.Resources = &stores.Resources{
		NetworkID: "net-1",
		SubnetID:  "subnet-1",
		ServerIDs: []string{"srv-1", "srv-2"},
	}
	store := newMockStore(d)
	cloud := newMockCloud()
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunDeleteWorkflow(context.Background(), DeleteInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Resources:    *d.Resources,
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if len(res.DeletedServerIDs) != 2 {
		t.Errorf("expected 2 deleted servers, got %v", res.DeletedServerIDs)
	}
	if len(cloud.deletedServers) != 2 {
		t.Errorf("expected both servers deleted, got %v", cloud.deletedServers)
	}
	if len(cloud.deletedNetworks) != 1 || cloud.deletedNetworks[0] != "net-1" {
		t.Errorf("expected network deleted, got %v", cloud.deletedNetworks)
	}
	if store.current().Status != stores.StatusDeleted {
		t.Errorf("expected status DELETED, got %s", store.current().Status)
	}
}

func TestDeletePartialFailureCleansUpFullSet(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	d.Resources = &stores.Resources{
		NetworkID: "net-1",
		ServerIDs: []string{"srv-1", "srv-2"},
	}
	store := newMockStore(d)
	cloud := newMockCloud()
	firstAttempt := true
	cloud.deleteServerErr = func(id string) error {
		// Fail srv-2 only on the first pass so the cleanup attempt is
		// distinguishable from the original deletion.
		if id == "srv-2" && firstAttempt {
			firstAttempt = false
			return errors.New("server locked")
		}
		return nil
	}
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunDeleteWorkflow(context.Background(), DeleteInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Resources:    *d.Resources,
	})

	if res.Success {
		t.Fatal("expected failure")
	}

	// Cleanup runs over the original full set: both servers get a second
	// deletion attempt and the network is attempted too.
	attempts := map[string]int{}
	for _, id := range cloud.deletedServers {
		attempts[id]++
	}
	if attempts["srv-1"] != 2 || attempts["srv-2"] != 2 {
		t.Errorf("expected cleanup attempts on both servers, got %v", attempts)
	}
	if len(cloud.deletedNetworks) != 1 {
		t.Errorf("expected cleanup attempt on network, got %v", cloud.deletedNetworks)
	}

	final := store.current()
	if final.Status != stores.StatusFailed {
		t.Errorf("expected status FAILED, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Phase != "deletion" {
		t.Errorf("expected error phase deletion, got %+v", final.Error)
	}
}

func TestDeleteNetworkFailure(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	d.Resources = &stores.Resources{NetworkID: "net-1"}
	store := newMockStore(d)
	cloud := newMockCloud()
	calls := 0
	cloud.deleteNetworkErr = func(string) error {
		calls++
		if calls == 1 {
			return errors.New("ports still attached")
		}
		return nil
	}
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunDeleteWorkflow(context.Background(), DeleteInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Resources:    *d.Resources,
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if calls != 2 {
		t.Errorf("expected a cleanup retry of the network deletion, got %d attempts", calls)
	}
	final := store.current()
	if final.Status != stores.StatusFailed {
		t.Errorf("expected status FAILED, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Phase != "deletion" {
		t.Errorf("expected error phase deletion, got %+v", final.Error)
	}
}
