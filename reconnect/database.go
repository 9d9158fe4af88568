package reconnect

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ceetaro/suitkaise/errs"
)

// connectPostgres rebuilds a live *pgx.Conn from connection metadata
// (host, port, database) plus the user/password credentials.
func connectPostgres(metadata, credentials map[string]any) (any, error) {
	host := metaString(metadata, "host")
	if host == "" {
		return nil, errs.New(errs.ReconnectFailed, "postgres: metadata missing host")
	}
	port := metaInt(metadata, "port")
	if port == 0 {
		port = 5432
	}
	db := metaString(metadata, "database")
	user := credString(credentials, "user")
	password := credString(credentials, "password")
	if user == "" {
		return nil, errs.New(errs.ReconnectFailed, "postgres: credentials missing user")
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", user, password, host, port, db)
	conn, err := pgx.Connect(context.Background(), connString)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return conn, nil
}

// connectMySQL rebuilds a *sql.DB over the mysql driver.
func connectMySQL(metadata, credentials map[string]any) (any, error) {
	host := metaString(metadata, "host")
	if host == "" {
		return nil, errs.New(errs.ReconnectFailed, "mysql: metadata missing host")
	}
	port := metaInt(metadata, "port")
	if port == 0 {
		port = 3306
	}
	db := metaString(metadata, "database")
	user := credString(credentials, "user")
	password := credString(credentials, "password")
	if user == "" {
		return nil, errs.New(errs.ReconnectFailed, "mysql: credentials missing user")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", user, password, host, port, db)
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return conn, nil
}

// connectSQLite rebuilds a *sql.DB over the sqlite3 driver. Unlike the
// networked families, the only metadata that matters is the file path; no
// credentials are needed.
func connectSQLite(metadata, _ map[string]any) (any, error) {
	path := metaString(metadata, "path")
	if path == "" {
		return nil, errs.New(errs.ReconnectFailed, "sqlite: metadata missing path")
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return conn, nil
}

// connectGenericSQL services any kind registered against a plain
// database/sql driver name via metadata["driver"], the Go analogue of a
// SQLAlchemy engine URL — a single factory covering any driver already
// imported for side effects elsewhere in the binary.
func connectGenericSQL(metadata, _ map[string]any) (any, error) {
	driver := metaString(metadata, "driver")
	dsn := metaString(metadata, "dsn")
	if driver == "" || dsn == "" {
		return nil, errs.New(errs.ReconnectFailed, "sqlalchemy_engine: metadata missing driver or dsn")
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return conn, nil
}

// connectRedis rebuilds a *redis.Client from host/port/db metadata plus an
// optional password credential, verifying the connection with a Ping.
func connectRedis(metadata, credentials map[string]any) (any, error) {
	host := metaString(metadata, "host")
	if host == "" {
		return nil, errs.New(errs.ReconnectFailed, "redis: metadata missing host")
	}
	port := metaInt(metadata, "port")
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: credString(credentials, "password"),
		DB:       metaInt(metadata, "db"),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return client, nil
}

// connectMongo rebuilds a *mongo.Client from a URI plus credentials.
func connectMongo(metadata, credentials map[string]any) (any, error) {
	uri := metaString(metadata, "uri")
	if uri == "" {
		return nil, errs.New(errs.ReconnectFailed, "mongo: metadata missing uri")
	}
	opts := options.Client().ApplyURI(uri)
	if user := credString(credentials, "user"); user != "" {
		opts = opts.SetAuth(options.Credential{
			Username: user,
			Password: credString(credentials, "password"),
		})
	}
	client, err := mongo.Connect(context.Background(), opts)
	if err != nil {
		return nil, errs.Wrap(errs.ReconnectFailed, err)
	}
	return client, nil
}
