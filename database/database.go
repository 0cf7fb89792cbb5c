// Package database - Handles all interaction with ArangoDB, where scan results are kept as
// history documents
package database

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"github.com/ortelius/lockscan/config"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
	"go.uber.org/zap"
)

const (
	databaseName   = "lockscan"
	scanCollection = "scan"

	// DefaultHistoryLimit caps history queries that do not set a limit.
	DefaultHistoryLimit = 100
)

// ErrNotConnected is returned by operations on a nil connection.
var ErrNotConnected = errors.New("scan history database is not connected")

// DBConnection is the structure that defined the database engine and collections
type DBConnection struct {
	Collections map[string]arangodb.Collection
	Database    arangodb.Database
	logger      *zap.Logger
}

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	IdxField   string
}

var indexes = []indexConfig{
	{Collection: scanCollection, IdxName: "scan_cve", IdxField: "cve"},
	{Collection: scanCollection, IdxName: "scan_target", IdxField: "target"},
	{Collection: scanCollection, IdxName: "scan_time", IdxField: "scanTime"},
	{Collection: scanCollection, IdxName: "scan_basepurls", IdxField: "basePurls[*]"},
}

// ConnectOptions bounds the connection retry.
type ConnectOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // Zero retries forever
}

// DefaultConnectOptions retries for up to two minutes.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Connect opens the scan history database, creating the database, collection and indexes on
// first use. The server is polled with exponential backoff until it answers or
// opts.MaxElapsedTime passes.
func Connect(ctx context.Context, cfg config.ArangoConfig, opts ConnectOptions, logger *zap.Logger) (*DBConnection, error) {
	logger = util.OrNop(logger)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialInterval
	bo.MaxInterval = opts.MaxInterval
	bo.MaxElapsedTime = opts.MaxElapsedTime

	var client arangodb.Client

	// Retry logic
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		logger.Debug("Attempting to connect to ArangoDB", zap.String("url", cfg.URL))
		endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, cfg.User, cfg.Pass))

		client = arangodb.NewClient(conn)

		// Ask the version of the server
		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil

	}, bo, func(err error, wait time.Duration) {
		logger.Warn("Retrying connection to ArangoDB", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, err
	}

	db, err := ensureDatabase(ctx, client)
	if err != nil {
		return nil, err
	}

	col, err := ensureCollection(ctx, db, scanCollection)
	if err != nil {
		return nil, err
	}
	collections := map[string]arangodb.Collection{scanCollection: col}

	if err := ensureIndexes(ctx, collections); err != nil {
		return nil, err
	}

	return &DBConnection{
		Database:    db,
		Collections: collections,
		logger:      logger,
	}, nil
}

func ensureDatabase(ctx context.Context, client arangodb.Client) (arangodb.Database, error) {
	exists := false
	dblist, _ := client.Databases(ctx)

	for _, dbinfo := range dblist {
		if dbinfo.Name() == databaseName {
			exists = true
			break
		}
	}

	if exists {
		var options arangodb.GetDatabaseOptions
		return client.GetDatabase(ctx, databaseName, &options)
	}
	return client.CreateDatabase(ctx, databaseName, nil)
}

func ensureCollection(ctx context.Context, db arangodb.Database, name string) (arangodb.Collection, error) {
	exists, _ := db.CollectionExists(ctx, name)
	if exists {
		var options arangodb.GetCollectionOptions
		return db.GetCollection(ctx, name, &options)
	}
	return db.CreateCollection(ctx, name, nil)
}

func ensureIndexes(ctx context.Context, collections map[string]arangodb.Collection) error {
	False := false

	for _, idx := range indexes {
		found := false

		if existing, err := collections[idx.Collection].Indexes(ctx); err == nil {
			for _, index := range existing {
				if idx.IdxName == index.Name {
					found = true
					break
				}
			}
		}
		if found {
			continue
		}

		// Define the index options
		indexOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &False,
			Sparse: &False,
			Name:   idx.IdxName,
		}

		if _, _, err := collections[idx.Collection].EnsurePersistentIndex(ctx, []string{idx.IdxField}, &indexOptions); err != nil {
			return err
		}
	}
	return nil
}

// SaveScan stores rec and returns its document key.
func (db *DBConnection) SaveScan(ctx context.Context, rec *model.ScanRecord) (string, error) {
	if db == nil {
		return "", ErrNotConnected
	}
	meta, err := db.Collections[scanCollection].CreateDocument(ctx, rec)
	if err != nil {
		return "", err
	}
	rec.Key = meta.Key
	db.logger.Debug("Stored scan", zap.String("key", meta.Key), zap.String("cve", rec.CVE), zap.String("target", rec.Target))
	return meta.Key, nil
}

// HistoryQuery selects stored scans, newest first. Empty fields do not filter.
type HistoryQuery struct {
	CVE     string
	Package string // npm package name
	Limit   int
}

// historyAQL builds the query text and bind variables for q.
func historyAQL(q HistoryQuery) (string, map[string]interface{}) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	basePurl := ""
	if q.Package != "" {
		if b, err := util.GetBasePURL(util.NpmPURL(q.Package, "")); err == nil {
			basePurl = b
		}
	}

	query := `
		FOR s IN scan
			FILTER @cve == "" || s.cve == @cve
			FILTER @purl == "" || @purl IN s.basePurls
			SORT s.scanTime DESC
			LIMIT @limit
			RETURN s
	`
	return query, map[string]interface{}{
		"cve":   q.CVE,
		"purl":  basePurl,
		"limit": limit,
	}
}

// FindScans returns stored scans matching q.
func (db *DBConnection) FindScans(ctx context.Context, q HistoryQuery) ([]model.ScanRecord, error) {
	if db == nil {
		return nil, ErrNotConnected
	}

	query, bindVars := historyAQL(q)
	cursor, err := db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	records := []model.ScanRecord{}
	for cursor.HasMore() {
		var rec model.ScanRecord
		if _, err := cursor.ReadDocument(ctx, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
