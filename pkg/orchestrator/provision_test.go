package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openmesa/openmesa/pkg/stores"
)

func TestProvisionSuccess(t *testing.T) {
	d := newTestDeployment()
	d.Template.VMConfig.Count = 3
	store := newMockStore(d)
	cloud := newMockCloud()
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunProvisionWorkflow(context.Background(), ProvisionInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Template:     d.Template,
		Parameters:   d.Parameters,
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if len(res.ServerIDs) != 3 {
		t.Fatalf("expected 3 server ids, got %d", len(res.ServerIDs))
	}
	if len(cloud.createdNetworks) != 1 || len(cloud.createdSubnets) != 1 {
		t.Errorf("expected exactly one network and one subnet, got %d/%d",
			len(cloud.createdNetworks), len(cloud.createdSubnets))
	}

	final := store.current()
	if final.Status != stores.StatusCompleted {
		t.Errorf("expected status COMPLETED, got %s", final.Status)
	}
	if final.Resources == nil || len(final.Resources.ServerIDs) != 3 {
		t.Fatalf("expected 3 server ids recorded on deployment, got %+v", final.Resources)
	}
	if final.Resources.NetworkID != res.NetworkID || final.Resources.SubnetID != res.SubnetID {
		t.Errorf("recorded resources do not match result: %+v vs %+v", final.Resources, res)
	}

	got := store.statuses()
	if len(got) != 2 || got[0] != stores.StatusInProgress || got[1] != stores.StatusCompleted {
		t.Errorf("unexpected status transitions: %v", got)
	}
}

func TestProvisionVMCountParameterOverride(t *testing.T) {
	d := newTestDeployment()
	count := 4
	d.Parameters.VMCount = &count
	store := newMockStore(d)
	cloud := newMockCloud()
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunProvisionWorkflow(context.Background(), ProvisionInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Template:     d.Template,
		Parameters:   d.Parameters,
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if len(res.ServerIDs) != 4 {
		t.Errorf("expected parameter vm_count to win over template count, got %d servers", len(res.ServerIDs))
	}
}

func TestProvisionRollbackOnServerCreateFailure(t *testing.T) {
	d := newTestDeployment()
	d.Template.VMConfig.Count = 3
	store := newMockStore(d)
	cloud := newMockCloud()
	// Fail exactly one of the three creations.
	cloud.createServerErr = func(name string) error {
		if strings.HasSuffix(name, "-vm-1") {
			return errors.New("quota exceeded")
		}
		return nil
	}
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunProvisionWorkflow(context.Background(), ProvisionInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Template:     d.Template,
	})

	if res.Success {
		t.Fatal("expected failure")
	}

	// The compensator must only touch what actually exists: the two
	// created servers and the network, never the full target of three.
	if len(cloud.deletedServers) != 2 {
		t.Errorf("expected 2 compensation server deletions, got %v", cloud.deletedServers)
	}
	if len(cloud.deletedNetworks) != 1 {
		t.Errorf("expected network compensation deletion, got %v", cloud.deletedNetworks)
	}

	final := store.current()
	if final.Status != stores.StatusFailed {
		t.Errorf("expected status FAILED, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Message == "" || final.Error.Type == "" {
		t.Errorf("expected structured error with message and type, got %+v", final.Error)
	}
}

func TestProvisionFailsWhenServerEntersErrorState(t *testing.T) {
	d := newTestDeployment()
	d.Template.VMConfig.Count = 2
	store := newMockStore(d)
	cloud := newMockCloud()
	cloud.statuses["srv-2"] = ServerStatusError
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunProvisionWorkflow(context.Background(), ProvisionInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Template:     d.Template,
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "ERROR state") {
		t.Errorf("expected ERROR state failure, got: %s", res.Error)
	}
	// Both created servers plus the network are rolled back.
	if len(cloud.deletedServers) != 2 || len(cloud.deletedNetworks) != 1 {
		t.Errorf("expected rollback of 2 servers and 1 network, got %v / %v",
			cloud.deletedServers, cloud.deletedNetworks)
	}
	if store.current().Status != stores.StatusFailed {
		t.Errorf("expected status FAILED, got %s", store.current().Status)
	}
}

func TestProvisionPollTimeout(t *testing.T) {
	d := newTestDeployment()
	d.Template.VMConfig.Count = 1
	store := newMockStore(d)
	cloud := newMockCloud()
	cloud.statuses["srv-1"] = ServerStatusBuild
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunProvisionWorkflow(context.Background(), ProvisionInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Template:     d.Template,
	})

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("expected timeout error, got: %s", res.Error)
	}
	final := store.current()
	if final.Status != stores.StatusFailed {
		t.Errorf("expected status FAILED, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Type != string(ErrorClassTimeout) {
		t.Errorf("expected timeout error type, got %+v", final.Error)
	}
}

func TestProvisionNetworkFailureSkipsServerCreation(t *testing.T) {
	d := newTestDeployment()
	store := newMockStore(d)
	cloud := newMockCloud()
	cloud.createNetworkErr = func(string) error { return errors.New("network quota exhausted") }
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunProvisionWorkflow(context.Background(), ProvisionInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Template:     d.Template,
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if len(cloud.createdServers) != 0 {
		t.Errorf("no servers should be created after network failure, got %v", cloud.createdServers)
	}
	if len(cloud.deletedNetworks) != 0 || len(cloud.deletedServers) != 0 {
		t.Errorf("nothing existed, nothing should be compensated: %v / %v",
			cloud.deletedNetworks, cloud.deletedServers)
	}
	if store.current().Status != stores.StatusFailed {
		t.Errorf("expected status FAILED, got %s", store.current().Status)
	}
}

func TestProvisionValidationSkipsStatusMutation(t *testing.T) {
	d := newTestDeployment()
	d.Template.NetworkConfig.CIDR = ""
	store := newMockStore(d)
	cloud := newMockCloud()
	e := newTestEngine(store, cloud, newMockRunner())

	res := e.RunProvisionWorkflow(context.Background(), ProvisionInput{
		DeploymentID: d.ID,
		CloudRegion:  d.CloudRegion,
		Template:     d.Template,
	})

	if res.Success {
		t.Fatal("expected validation failure")
	}
	if store.updateCount() != 0 {
		t.Errorf("validation failure must not mutate the deployment, saw %d updates", store.updateCount())
	}
	if cloud.totalCalls() != 0 {
		t.Error("validation failure must not reach the cloud API")
	}
}
