// Package orchestrator implements the OpenMesa workflow engine: the five
// deployment workflows (provision, delete, update, scale, configure) that
// drive a deployment record through its lifecycle state machine while
// coordinating the cloud resource API and the playbook runner.
//
// Workflows never let an error escape to the caller. Every path returns a
// result value carrying a success flag and, on failure, a structured error
// payload that is also persisted on the deployment record.
package orchestrator
