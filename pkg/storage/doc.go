// Package storage opens the service's backing stores (Postgres via lib/pq,
// redis, S3-compatible object storage) and owns the SQL schema migrations.
//
// Domain packages take a *sql.DB or *redis.Client and run their own queries;
// nothing here knows about sessions, memberships or plans.
package storage
