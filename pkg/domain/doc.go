// Package domain holds the organizing entities (tasks, reports, alerts,
// posts, resources, projects) and their scope-filtered storage. Every query
// takes a scope.Filter; rows outside the caller's territorial scope are
// invisible to both reads and writes.
package domain
