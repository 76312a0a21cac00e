// Package repo wraps Neo4j sessions behind small interfaces so graph code can
// run against a fake in tests.
package repo

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the minimal interface needed from a neo4j result.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner is the minimal interface needed from a neo4j session.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Sessions opens a Runner per unit of work.
type Sessions func(ctx context.Context) Runner

// DriverSessions opens real sessions on driver. An empty database selects the
// server default.
func DriverSessions(driver neo4j.DriverWithContext, database string) Sessions {
	return func(ctx context.Context) Runner {
		return &sessionAdapter{sess: driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database})}
	}
}

// sessionAdapter adapts neo4j.SessionWithContext to the Runner interface.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Exec runs a write statement in its own session and drains the result.
func Exec(ctx context.Context, open Sessions, cypher string, params map[string]any) error {
	sess := open(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	for res.Next(ctx) {
	}
	return res.Err()
}

// Query runs a read statement and maps every record through from.
func Query[T any](ctx context.Context, open Sessions, cypher string, params map[string]any, from func(*neo4j.Record) (T, error)) ([]T, error) {
	sess := open(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var items []T
	for res.Next(ctx) {
		item, err := from(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// String reads a string column, "" when absent or null.
func String(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int reads an integer column, 0 when absent or not an integer.
func Int(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok {
		return 0
	}
	n, _ := v.(int64)
	return n
}
