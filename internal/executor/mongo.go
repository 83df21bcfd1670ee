package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
)

func (r *Router) mongoClient(ctx context.Context, inst Instance, database string) (*mongo.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.mongoClients[database]; ok {
		return client, nil
	}

	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d/%s", inst.User, inst.Password, inst.Host, inst.Port, database)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	r.mongoClients[database] = client
	r.logger.Debug("executor: connected mongo client", "database", database, "host", inst.Host)
	return client, nil
}

func (r *Router) executeMongo(ctx context.Context, inst Instance, database, query string) queryportal.Outcome {
	if msg := ScreenForbidden(query); msg != "" {
		return queryportal.Failure("%s", msg)
	}
	stmt, err := ParseStatement(query)
	if err != nil {
		return queryportal.Failure("invalid query: %v", err)
	}

	client, err := r.mongoClient(ctx, inst, database)
	if err != nil {
		return queryportal.Failure("backend unavailable: %v", err)
	}
	coll := client.Database(database).Collection(stmt.Collection)

	octx, cancel := context.WithTimeout(ctx, r.limits.OperationTimeout)
	defer cancel()

	out, err := r.runMongoMethod(octx, coll, stmt)
	if err != nil {
		return r.classifyMongoError(err)
	}
	return out
}

func (r *Router) runMongoMethod(ctx context.Context, coll *mongo.Collection, stmt *Statement) (queryportal.Outcome, error) {
	arg := func(i int) interface{} {
		if i < len(stmt.Args) {
			return stmt.Args[i]
		}
		return map[string]interface{}{}
	}

	switch stmt.Method {
	case "find":
		cursor, err := coll.Find(ctx, arg(0))
		if err != nil {
			return queryportal.Outcome{}, err
		}
		return r.drainCursor(ctx, cursor)

	case "findOne":
		var doc map[string]interface{}
		err := coll.FindOne(ctx, arg(0)).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return queryportal.Outcome{Success: true, Output: "null", RowCount: 0}, nil
		}
		if err != nil {
			return queryportal.Outcome{}, err
		}
		payload, err := json.Marshal(doc)
		if err != nil {
			return queryportal.Outcome{}, err
		}
		return queryportal.Outcome{Success: true, Output: string(payload), RowCount: 1}, nil

	case "aggregate":
		pipeline, perr := aggregatePipeline(stmt.Args)
		if perr != nil {
			return queryportal.Failure("%v", perr), nil
		}
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return queryportal.Outcome{}, err
		}
		return r.drainCursor(ctx, cursor)

	case "countDocuments":
		n, err := coll.CountDocuments(ctx, arg(0))
		if err != nil {
			return queryportal.Outcome{}, err
		}
		return queryportal.Outcome{Success: true, Output: fmt.Sprintf("%d", n), RowCount: int(n)}, nil

	case "insertOne":
		res, err := coll.InsertOne(ctx, stmt.Args[0])
		if err != nil {
			return queryportal.Outcome{}, err
		}
		return queryportal.Outcome{
			Success:  true,
			Output:   fmt.Sprintf(`{"insertedId": %s}`, jsonValue(res.InsertedID)),
			RowCount: 1,
		}, nil

	case "insertMany":
		docs, ok := stmt.Args[0].([]interface{})
		if !ok {
			return queryportal.Failure("insertMany requires an array of documents"), nil
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return queryportal.Outcome{}, err
		}
		return queryportal.Outcome{
			Success:  true,
			Output:   fmt.Sprintf(`{"insertedCount": %d}`, len(res.InsertedIDs)),
			RowCount: len(res.InsertedIDs),
		}, nil

	case "updateOne", "updateMany":
		var res *mongo.UpdateResult
		var err error
		if stmt.Method == "updateOne" {
			res, err = coll.UpdateOne(ctx, stmt.Args[0], stmt.Args[1])
		} else {
			res, err = coll.UpdateMany(ctx, stmt.Args[0], stmt.Args[1])
		}
		if err != nil {
			return queryportal.Outcome{}, err
		}
		return queryportal.Outcome{
			Success:  true,
			Output:   fmt.Sprintf(`{"matchedCount": %d, "modifiedCount": %d}`, res.MatchedCount, res.ModifiedCount),
			RowCount: int(res.ModifiedCount),
		}, nil

	case "deleteOne", "deleteMany":
		var res *mongo.DeleteResult
		var err error
		if stmt.Method == "deleteOne" {
			res, err = coll.DeleteOne(ctx, stmt.Args[0])
		} else {
			res, err = coll.DeleteMany(ctx, stmt.Args[0])
		}
		if err != nil {
			return queryportal.Outcome{}, err
		}
		return queryportal.Outcome{
			Success:  true,
			Output:   fmt.Sprintf(`{"deletedCount": %d}`, res.DeletedCount),
			RowCount: int(res.DeletedCount),
		}, nil

	default:
		// ParseStatement rejects unknown methods before we get here.
		return queryportal.Failure("unsupported method %q", stmt.Method), nil
	}
}

// aggregatePipeline resolves the optional pipeline argument: absent means
// an empty pipeline, present must be a JSON array.
func aggregatePipeline(args []interface{}) ([]interface{}, error) {
	if len(args) == 0 {
		return []interface{}{}, nil
	}
	pipeline, ok := args[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("aggregate requires a pipeline array")
	}
	return pipeline, nil
}

// docCursor is the subset of *mongo.Cursor the collector needs.
type docCursor interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	Err() error
	Close(ctx context.Context) error
}

func (r *Router) drainCursor(ctx context.Context, cursor docCursor) (queryportal.Outcome, error) {
	defer cursor.Close(ctx)

	docs := make([]map[string]interface{}, 0)
	for cursor.Next(ctx) {
		if len(docs) >= r.limits.MaxResultRows {
			return queryportal.Failure("result exceeds limit of %d documents", r.limits.MaxResultRows), nil
		}
		var doc map[string]interface{}
		if err := cursor.Decode(&doc); err != nil {
			return queryportal.Outcome{}, err
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return queryportal.Outcome{}, err
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return queryportal.Outcome{}, err
	}
	return queryportal.Outcome{Success: true, Output: string(payload), RowCount: len(docs)}, nil
}

func (r *Router) classifyMongoError(err error) queryportal.Outcome {
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return queryportal.Failure("operation timed out after %dms", r.limits.OperationTimeout.Milliseconds())
	}
	return queryportal.Failure("operation failed: %v", err)
}

func jsonValue(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return string(b)
}
