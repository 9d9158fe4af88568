package reconnect

import (
	"fmt"
	"sync"

	"github.com/ceetaro/suitkaise/errs"
)

// Kind names a registry entry. The built-in kinds mirror the resource
// classes the runtime itself produces Reconnector placeholders for;
// RegisterFactory lets a caller add more without forking this package.
const (
	KindPostgres         = "postgres"
	KindMySQL            = "mysql"
	KindSQLite           = "sqlite"
	KindMongo            = "mongo"
	KindRedis            = "redis"
	KindCassandra        = "cassandra"
	KindElasticsearch    = "elasticsearch"
	KindOpensearch       = "opensearch"
	KindSQLAlchemyEngine = "sqlalchemy_engine"
	KindODBC             = "odbc"
	KindNeo4j            = "neo4j"
	KindInfluxDBv2       = "influxdb_v2"
	KindSocket           = "socket"
	KindSubprocess       = "subprocess"
	KindThread           = "thread"
	KindPipe             = "pipe"
	KindRegexMatch       = "regex_match"
	KindGeneric          = "generic"
)

// Factory rebuilds a live resource from a Reconnector's non-secret metadata
// and the credentials the caller supplied for its kind. Factories are
// best-effort: they must never panic, and every failure is returned as an
// *errs.Error of kind errs.ReconnectFailed rather than propagated raw.
type Factory func(metadata map[string]any, credentials map[string]any) (any, error)

// Registry is a kind -> Factory table, safe for concurrent use. The zero
// value is not usable; construct one with New, which pre-registers every
// built-in kind from spec §4.2.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New returns a Registry with every built-in factory registered.
func New() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.RegisterFactory(KindPostgres, connectPostgres)
	r.RegisterFactory(KindMySQL, connectMySQL)
	r.RegisterFactory(KindSQLite, connectSQLite)
	r.RegisterFactory(KindMongo, connectMongo)
	r.RegisterFactory(KindRedis, connectRedis)
	r.RegisterFactory(KindSQLAlchemyEngine, connectGenericSQL)
	r.RegisterFactory(KindRegexMatch, connectRegexMatch)
	r.RegisterFactory(KindSocket, connectSocket)
	r.RegisterFactory(KindPipe, connectPipe)
	r.RegisterFactory(KindSubprocess, connectSubprocess)
	r.RegisterFactory(KindThread, connectThread)
	r.RegisterFactory(KindCassandra, unimplemented(KindCassandra))
	r.RegisterFactory(KindElasticsearch, unimplemented(KindElasticsearch))
	r.RegisterFactory(KindOpensearch, unimplemented(KindOpensearch))
	r.RegisterFactory(KindODBC, unimplemented(KindODBC))
	r.RegisterFactory(KindNeo4j, unimplemented(KindNeo4j))
	r.RegisterFactory(KindInfluxDBv2, unimplemented(KindInfluxDBv2))
	return r
}

// RegisterFactory adds or replaces the factory for kind. Safe to call
// concurrently with Reconnect.
func (r *Registry) RegisterFactory(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Reconnect looks up kind and invokes its factory. Satisfies
// wire.ReconnectRegistry.
func (r *Registry) Reconnect(kind string, metadata map[string]any, credentials map[string]any) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.ReconnectFailed, fmt.Sprintf("no factory registered for kind %q", kind))
	}
	resource, err := factory(metadata, credentials)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return resource, nil
}

func unimplemented(kind string) Factory {
	return func(map[string]any, map[string]any) (any, error) {
		return nil, errs.New(errs.ReconnectFailed, fmt.Sprintf("kind %q has no bundled factory; register one with RegisterFactory", kind))
	}
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func metaInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func credString(c map[string]any, key string) string {
	if c == nil {
		return ""
	}
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}
