// Package mysql persists launched-token records. It ships a MySQL repository
// with embedded schema migrations and a file-backed repository that appends
// JSON lines under the data directory for single-node deployments.
package mysql
