// Package task manages processing tasks: creation and operator actions,
// the per-task log artifact, the worker that processes a task's
// transactions, and the supervisor that runs workers out of process.
package task
