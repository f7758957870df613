// Package util holds small helpers for the orchestrator: the executor's
// concurrency semaphore, task identifier parsing, and generic set
// operations.
package util

import (
	"fmt"
	"strings"
)

const (
	// TaskDelimiter separates a package name from a task name in a task id.
	// A bare `pkg#name` dependency token in a task definition uses the same
	// delimiter, so parsing a taskID and parsing a dependency token are the
	// same operation.
	TaskDelimiter = "#"
	// RootPkgName is the reserved name for tasks that run from the monorepo
	// root rather than from any one package.
	RootPkgName = "//"
)

// GetTaskId returns a package-task identifier (e.g. @feed/thing#build).
func GetTaskId(pkgName interface{}, target string) string {
	if IsPackageTask(target) {
		return target
	}
	return fmt.Sprintf("%v%v%v", pkgName, TaskDelimiter, target)
}

// IsWellFormedPackageTask reports whether a `pkg#name` token has a non-empty
// package segment and a non-empty task segment. Malformed tokens (`#build`,
// `pkg#`) are rejected during task-definition resolution rather than
// surfacing later as confusing "task not found" errors.
func IsWellFormedPackageTask(token string) bool {
	if !IsPackageTask(token) {
		return false
	}
	pkg, task := GetPackageTaskFromId(token)
	return pkg != "" && task != ""
}

// RootTaskID returns the task id for running the given task in the root package
func RootTaskID(target string) string {
	return GetTaskId(RootPkgName, target)
}

// GetPackageTaskFromId returns a tuple of the package name and target task
func GetPackageTaskFromId(taskId string) (packageName string, task string) {
	arr := strings.Split(taskId, TaskDelimiter)
	return arr[0], arr[1]
}

// RootTaskTaskName returns the task portion of a root task taskID
func RootTaskTaskName(taskID string) string {
	return strings.TrimPrefix(taskID, RootPkgName+TaskDelimiter)
}

// IsPackageTask returns true if input is a package-specific task
// whose name has a length greater than 0.
//
// Accepted: myapp#build
// Rejected: #build, build
func IsPackageTask(task string) bool {
	return strings.Index(task, TaskDelimiter) > 0
}

// IsTaskInPackage returns true if the task does not belong to a different package
// note that this means unscoped tasks will always return true
func IsTaskInPackage(task string, packageName string) bool {
	if !IsPackageTask(task) {
		return true
	}
	packageNameExpected, _ := GetPackageTaskFromId(task)
	return packageNameExpected == packageName
}

// StripPackageName removes the package portion of a taskID if it
// is a package task. Non-package tasks are returned unmodified
func StripPackageName(taskID string) string {
	if IsPackageTask(taskID) {
		_, task := GetPackageTaskFromId(taskID)
		return task
	}
	return taskID
}
