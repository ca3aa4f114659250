package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/openmesa/openmesa/pkg/stores"
)

func TestConfigureEmptyServerListGuard(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	d.Resources = &stores.Resources{NetworkID: "net-1"}
	store := newMockStore(d)
	cloud := newMockCloud()
	runner := newMockRunner()
	e := newTestEngine(store, cloud, runner)

	res := e.RunConfigureWorkflow(context.Background(), ConfigureInput{
		DeploymentID: d.ID,
		PlaybookPath: "site.yml",
		Resources:    *d.Resources,
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "No VMs found") {
		t.Errorf("expected 'No VMs found' error, got: %s", res.Error)
	}
	if runner.requestCount() != 0 {
		t.Error("the playbook runner must never be called without servers")
	}
	if store.updateCount() != 0 {
		t.Error("the empty-VM guard must not mutate the deployment")
	}
	if cloud.totalCalls() != 0 {
		t.Error("the empty-VM guard must not reach the cloud API")
	}
}

func TestConfigureSuccess(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	d.Resources = &stores.Resources{
		NetworkID: "net-1",
		ServerIDs: []string{"srv-1", "srv-2"},
	}
	store := newMockStore(d)
	cloud := newMockCloud()
	cloud.addresses["srv-1"] = []string{"10.0.0.11"}
	cloud.addresses["srv-2"] = []string{"10.0.0.12"}
	runner := newMockRunner()
	e := newTestEngine(store, cloud, runner)

	res := e.RunConfigureWorkflow(context.Background(), ConfigureInput{
		DeploymentID: d.ID,
		PlaybookPath: "site.yml",
		ExtraVars:    map[string]any{"app_version": "1.4.2"},
		Resources:    *d.Resources,
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if !reflect.DeepEqual(res.ConfiguredHosts, []string{"10.0.0.11", "10.0.0.12"}) {
		t.Errorf("expected resolved hosts in server order, got %v", res.ConfiguredHosts)
	}
	if res.ExecutionID != "exec-1" {
		t.Errorf("expected execution id from runner, got %s", res.ExecutionID)
	}

	if runner.requestCount() != 1 {
		t.Fatalf("expected one playbook run, got %d", runner.requestCount())
	}
	req := runner.requests[0]
	if req.PlaybookPath != "site.yml" {
		t.Errorf("unexpected playbook path: %s", req.PlaybookPath)
	}
	if !reflect.DeepEqual(req.Inventory, []string{"10.0.0.11", "10.0.0.12"}) {
		t.Errorf("unexpected inventory: %v", req.Inventory)
	}
	if req.ExtraVars["app_version"] != "1.4.2" {
		t.Errorf("extra vars not passed through: %v", req.ExtraVars)
	}

	final := store.current()
	if final.Status != stores.StatusCompleted {
		t.Errorf("expected status COMPLETED, got %s", final.Status)
	}
	if final.ExtraMetadata == nil ||
		!reflect.DeepEqual(final.ExtraMetadata.ConfiguredHosts, []string{"10.0.0.11", "10.0.0.12"}) {
		t.Errorf("expected configured hosts recorded, got %+v", final.ExtraMetadata)
	}
	if final.ExtraMetadata.LastExecutionID != "exec-1" || final.ExtraMetadata.LastConfiguredAt == nil {
		t.Errorf("expected execution metadata recorded, got %+v", final.ExtraMetadata)
	}
}

func TestConfigurePlaybookFailure(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	d.Resources = &stores.Resources{NetworkID: "net-1", ServerIDs: []string{"srv-1"}}
	store := newMockStore(d)
	cloud := newMockCloud()
	runner := newMockRunner()
	runner.result = &PlaybookResult{
		ExecutionID: "exec-9",
		Status:      PlaybookStatusFailed,
		ReturnCode:  2,
		ErrorOutput: "task 'install nginx' failed",
	}
	e := newTestEngine(store, cloud, runner)

	res := e.RunConfigureWorkflow(context.Background(), ConfigureInput{
		DeploymentID: d.ID,
		PlaybookPath: "site.yml",
		Resources:    *d.Resources,
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if len(res.ConfiguredHosts) != 0 {
		t.Errorf("failed runs must not report configured hosts, got %v", res.ConfiguredHosts)
	}
	if res.ExecutionID != "exec-9" || res.ReturnCode == nil || *res.ReturnCode != 2 {
		t.Errorf("expected execution id and return code in result, got %+v", res)
	}

	final := store.current()
	if final.Status != stores.StatusFailed {
		t.Errorf("expected status FAILED, got %s", final.Status)
	}
	if final.Error == nil || final.Error.AnsibleExecutionID != "exec-9" {
		t.Errorf("expected ansible execution id in error, got %+v", final.Error)
	}
	if final.Error.ReturnCode == nil || *final.Error.ReturnCode != 2 {
		t.Errorf("expected return code in error, got %+v", final.Error)
	}
}

func TestConfigureAddressResolutionFailure(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	d.Resources = &stores.Resources{NetworkID: "net-1", ServerIDs: []string{"srv-1"}}
	store := newMockStore(d)
	cloud := newMockCloud()
	cloud.addressesErr = func(string) error { return errors.New("compute API unavailable") }
	runner := newMockRunner()
	e := newTestEngine(store, cloud, runner)

	res := e.RunConfigureWorkflow(context.Background(), ConfigureInput{
		DeploymentID: d.ID,
		PlaybookPath: "site.yml",
		Resources:    *d.Resources,
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "Configuration failed") {
		t.Errorf("expected generic configuration failure, got: %s", res.Error)
	}
	if runner.requestCount() != 0 {
		t.Error("the playbook must not run when address resolution fails")
	}
	if store.current().Status != stores.StatusFailed {
		t.Errorf("expected status FAILED, got %s", store.current().Status)
	}
}

func TestConfigureHostLimitPassedThrough(t *testing.T) {
	d := newTestDeployment()
	d.Status = stores.StatusCompleted
	d.Resources = &stores.Resources{NetworkID: "net-1", ServerIDs: []string{"srv-1"}}
	store := newMockStore(d)
	runner := newMockRunner()
	e := newTestEngine(store, newMockCloud(), runner)

	res := e.RunConfigureWorkflow(context.Background(), ConfigureInput{
		DeploymentID: d.ID,
		PlaybookPath: "site.yml",
		Limit:        "10.0.0.11",
		Resources:    *d.Resources,
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if runner.requests[0].Limit != "10.0.0.11" {
		t.Errorf("host limit not passed through, got %q", runner.requests[0].Limit)
	}
}
