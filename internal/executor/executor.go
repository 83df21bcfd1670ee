// Package executor routes approved requests to the matching backend
// executor and applies post-processing to the result. It owns the pooled
// backend connections: one handle per {backend kind, database name},
// created lazily, reused across requests, closed only on shutdown.
package executor

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/harshg-zluri/db-query-portal-sub000/pkg/compression"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
)

// Instance describes one configured backend instance.
type Instance struct {
	ID            string
	Backend       queryportal.BackendKind
	Host          string
	Port          int
	User          string
	Password      string
	CredentialRef string
	Schema        string
}

// Descriptor returns the plain-data view of the instance handed to
// sandboxed scripts. It carries a credential reference, never the secret.
func (i Instance) Descriptor(database string) queryportal.ConnectionDescriptor {
	return queryportal.ConnectionDescriptor{
		InstanceID:    i.ID,
		Backend:       i.Backend,
		Host:          i.Host,
		Port:          i.Port,
		Database:      database,
		User:          i.User,
		CredentialRef: i.CredentialRef,
	}
}

// ScriptRunner is the sandbox surface the router depends on.
type ScriptRunner interface {
	Execute(script string, conns []queryportal.ConnectionDescriptor) queryportal.Outcome
	Validate(script string) []string
}

type Limits struct {
	StatementTimeout     time.Duration
	OperationTimeout     time.Duration
	MaxResultRows        int
	CompressionThreshold int
}

// Router dispatches query-vs-script and target backend for one request.
type Router struct {
	catalog    map[string]Instance
	limits     Limits
	sandbox    ScriptRunner
	compressor compression.Compressor
	logger     queryportal.Logger

	mu           sync.Mutex
	pgPools      map[string]*pgxpool.Pool
	mysqlDBs     map[string]*sql.DB
	mongoClients map[string]*mongo.Client
}

func NewRouter(catalog map[string]Instance, limits Limits, sandbox ScriptRunner, logger queryportal.Logger) *Router {
	comp, _ := compression.NewCompressor(compression.Zstd)
	return &Router{
		catalog:      catalog,
		limits:       limits,
		sandbox:      sandbox,
		compressor:   comp,
		logger:       logger,
		pgPools:      make(map[string]*pgxpool.Pool),
		mysqlDBs:     make(map[string]*sql.DB),
		mongoClients: make(map[string]*mongo.Client),
	}
}

// Execute runs one approved request and returns a structured outcome. It
// never returns an error: every failure mode is mapped into the outcome.
func (r *Router) Execute(ctx context.Context, req *queryportal.ExecutionRequest) queryportal.Outcome {
	var out queryportal.Outcome
	switch req.Kind {
	case queryportal.SubmissionQuery:
		out = r.executeQuery(ctx, req)
	case queryportal.SubmissionScript:
		out = r.executeScript(req)
	default:
		out = queryportal.Failure("unknown submission kind %q", req.Kind)
	}
	return r.postProcess(out)
}

func (r *Router) executeQuery(ctx context.Context, req *queryportal.ExecutionRequest) queryportal.Outcome {
	if strings.TrimSpace(req.Payload) == "" {
		return queryportal.Failure("query text is empty")
	}

	inst, ok := r.catalog[req.InstanceID]
	if !ok {
		return queryportal.Failure("configuration error: no instance %q", req.InstanceID)
	}
	if inst.Backend != req.Backend {
		return queryportal.Failure("configuration error: instance %q is %s, request targets %s",
			req.InstanceID, inst.Backend, req.Backend)
	}

	switch req.Backend {
	case queryportal.BackendPostgres:
		return r.executePostgres(ctx, inst, req.Database, req.Payload)
	case queryportal.BackendMySQL:
		return r.executeMySQL(ctx, inst, req.Database, req.Payload)
	case queryportal.BackendMongoDB:
		return r.executeMongo(ctx, inst, req.Database, req.Payload)
	default:
		return queryportal.Failure("unsupported backend %q", req.Backend)
	}
}

func (r *Router) executeScript(req *queryportal.ExecutionRequest) queryportal.Outcome {
	if strings.TrimSpace(req.Payload) == "" {
		return queryportal.Failure("script text is empty")
	}
	if errs := r.sandbox.Validate(req.Payload); len(errs) > 0 {
		return queryportal.Failure("script validation failed: %s", strings.Join(errs, "; "))
	}
	return r.sandbox.Execute(req.Payload, r.descriptors(req.Database))
}

// descriptors lists every configured instance as plain data, in stable
// order, so scripts see a deterministic view.
func (r *Router) descriptors(database string) []queryportal.ConnectionDescriptor {
	ids := make([]string, 0, len(r.catalog))
	for id := range r.catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	conns := make([]queryportal.ConnectionDescriptor, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, r.catalog[id].Descriptor(database))
	}
	return conns
}

// postProcess applies the size limit: output beyond the threshold is
// compressed and flagged, with the original size retained for diagnostics.
func (r *Router) postProcess(out queryportal.Outcome) queryportal.Outcome {
	size := len(out.Output)
	out.OriginalSize = size
	if size <= r.limits.CompressionThreshold || r.compressor == nil {
		return out
	}

	encoded, err := compression.EncodeString(r.compressor, out.Output)
	if err != nil {
		r.logger.Warn("executor: output compression failed, storing uncompressed",
			"size", size, "error", err)
		return out
	}
	out.Output = encoded
	out.Compressed = true
	return out
}

// Close tears down every pooled backend handle. Called on process shutdown.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, pool := range r.pgPools {
		pool.Close()
		delete(r.pgPools, name)
	}
	for name, db := range r.mysqlDBs {
		if err := db.Close(); err != nil {
			r.logger.Warn("executor: mysql pool close failed", "database", name, "error", err)
		}
		delete(r.mysqlDBs, name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for name, client := range r.mongoClients {
		if err := client.Disconnect(ctx); err != nil {
			r.logger.Warn("executor: mongo client disconnect failed", "database", name, "error", err)
		}
		delete(r.mongoClients, name)
	}
}

// isRowReturning reports whether the statement produces a row set rather
// than an affected-row count.
func isRowReturning(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "VALUES", "TABLE"} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// normalizeStatement strips whitespace and one trailing semicolon so the
// statement can be wrapped as a subquery for the pre-flight row estimate.
func normalizeStatement(query string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
}

func (r *Router) timeoutFailure(d time.Duration) queryportal.Outcome {
	return queryportal.Failure("query timed out after %dms", d.Milliseconds())
}

// rejectOversized applies the row limit to a pre-flight estimate. An
// estimate of exactly the limit passes; one row over is rejected with a
// message naming both counts.
func (r *Router) rejectOversized(estimated int64) (queryportal.Outcome, bool) {
	if estimated > int64(r.limits.MaxResultRows) {
		return queryportal.Failure("%d rows exceeds limit of %d", estimated, r.limits.MaxResultRows), true
	}
	return queryportal.Outcome{}, false
}
