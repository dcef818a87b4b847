package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"github.com/searchlink/searchlink-mongodb/config"
	"github.com/searchlink/searchlink-mongodb/errors"
	"github.com/searchlink/searchlink-mongodb/log"
	"github.com/searchlink/searchlink-mongodb/metrics"
	"github.com/searchlink/searchlink-mongodb/search"
	"github.com/searchlink/searchlink-mongodb/slink"
	"github.com/searchlink/searchlink-mongodb/topo"
)

// Constants for server configuration.
const (
	ServerReadTimeout       = 30 * time.Second
	ServerReadHeaderTimeout = 3 * time.Second
	MaxRequestSize          = humanize.MiByte
)

// contextKey is a type for context keys used in this package.
type contextKey string

// configContextKey is the context key for storing *config.Config.
const configContextKey contextKey = "config"

var (
	Version   = "v0.2.0" //nolint:gochecknoglobals
	Platform  = ""       //nolint:gochecknoglobals
	GitCommit = ""       //nolint:gochecknoglobals
	GitBranch = ""       //nolint:gochecknoglobals
	BuildTime = ""       //nolint:gochecknoglobals
)

func buildVersion() string {
	return Version + " " + GitCommit + " " + BuildTime
}

//nolint:gochecknoglobals
var rootCmd = &cobra.Command{
	Use:   "slink",
	Short: "SearchLink for MongoDB search index synchronization tool",

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}

		logLevel, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil {
			logLevel = zerolog.InfoLevel
		}

		lg := log.InitGlobals(logLevel, cfg.Log.JSON, cfg.Log.NoColor)
		ctx := lg.WithContext(context.Background())
		ctx = context.WithValue(ctx, configContextKey, cfg)
		cmd.SetContext(ctx)

		return nil
	},

	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		log.Ctx(cmd.Context()).Info("SearchLink for MongoDB " + buildVersion())

		return runServer(cmd.Context(), cfg)
	},
}

//nolint:gochecknoglobals
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		info := fmt.Sprintf("Version:   %s\nPlatform:  %s\nGitCommit: "+
			"%s\nGitBranch: %s\nBuildTime: %s\nGoVersion: %s",
			Version,
			Platform,
			GitCommit,
			GitBranch,
			BuildTime,
			runtime.Version(),
		)

		cmd.Println(info)
	},
}

//nolint:gochecknoglobals
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get the status of the sync process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return NewClient(viper.GetInt("port")).Status(cmd.Context())
	},
}

//nolint:gochecknoglobals
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync",
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := startRequest{}

		if cmd.Flags().Changed("snapshot") {
			v, _ := cmd.Flags().GetBool("snapshot")
			req.Snapshot = &v
		}

		return NewClient(viper.GetInt("port")).Start(cmd.Context(), req)
	},
}

//nolint:gochecknoglobals
var dropCmd = &cobra.Command{
	Use:   "drop COLLECTION...",
	Short: "Drop the search indexes derived from the named collections",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return NewClient(viper.GetInt("port")).Drop(cmd.Context(),
			dropRequest{Collections: args})
	},
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output log in JSON format")
	rootCmd.PersistentFlags().Bool("log-no-color", false, "Disable log color")

	rootCmd.PersistentFlags().Int("port", config.DefaultServerPort, "Port number")

	rootCmd.Flags().String("source", "", "MongoDB connection string for the source")
	rootCmd.Flags().String("database", "", "Source database name (overrides the connection string)")
	rootCmd.Flags().StringSlice("target", nil, "Elasticsearch URLs for the target")
	rootCmd.Flags().String("target-username", "", "Elasticsearch username")
	rootCmd.Flags().String("target-password", "", "Elasticsearch password")
	rootCmd.Flags().String("target-api-key", "", "Elasticsearch API key")

	rootCmd.Flags().String("index-prefix", "", "Prefix for every derived index name")
	rootCmd.Flags().Bool("snapshot", false, "Load full collections before mirroring the change feed")
	rootCmd.Flags().Bool("debug", false, "Surface sync failures instead of stopping silently")
	rootCmd.Flags().StringSlice("exclude-collections", nil,
		"Collections to exclude from the sync (e.g. audit,tmp_*)")

	rootCmd.Flags().Int("snapshot-parallelism", 0,
		"Number of collections to load in parallel (0 = default)")
	rootCmd.Flags().Int("snapshot-batch-size", 0,
		"Number of documents per bulk request (0 = default)")
	rootCmd.Flags().String("snapshot-max-batch-bytes", "",
		"Size cap of one bulk request (e.g. 5MiB)")

	rootCmd.Flags().Bool("start", false, "")
	rootCmd.Flags().MarkHidden("start") //nolint:errcheck

	startCmd.Flags().Bool("snapshot", false,
		"Load full collections before mirroring the change feed")

	rootCmd.AddCommand(
		versionCmd,
		statusCmd,
		startCmd,
		dropCmd,
	)

	err := rootCmd.Execute()
	if err != nil {
		zerolog.Ctx(context.Background()).Fatal().Err(err).Msg("")
	}
}

// runServer starts the HTTP server with the provided configuration.
func runServer(ctx context.Context, cfg *config.Config) error {
	err := cfg.Validate()
	if err != nil {
		return errors.Wrap(err, "validate options")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	srv, err := createServer(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "new server")
	}

	if cfg.Start {
		err = srv.slink.Start(ctx, srv.syncOptions(nil))
		if err != nil {
			log.New("cli").Error(err, "Failed to start sync")
		}
	}

	go func() {
		<-ctx.Done()

		err := closeWithTimeout(ctx, config.DisconnectTimeout, srv.Close)
		if err != nil {
			log.New("server").Error(err, "Close server")
		}

		os.Exit(0)
	}()

	port := cfg.Port
	if port == 0 {
		port = config.DefaultServerPort
	}

	addr := fmt.Sprintf("localhost:%d", port)
	httpServer := http.Server{
		Addr:    addr,
		Handler: srv.Handler(),

		ReadTimeout:       ServerReadTimeout,
		ReadHeaderTimeout: ServerReadHeaderTimeout,
	}

	log.Ctx(ctx).Info("Starting HTTP server at http://" + addr)

	return httpServer.ListenAndServe() //nolint:wrapcheck
}

// Server represents the sync server.
type Server struct {
	// Cfg holds the configuration.
	Cfg *config.Config
	// sourceClient is the MongoDB client for the source database.
	sourceClient *mongo.Client
	// slink is the sync engine.
	slink *slink.SLink

	// promRegistry is the Prometheus registry for metrics.
	promRegistry *prometheus.Registry
}

// createServer connects to the source and the target and builds the server.
func createServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	lg := log.Ctx(ctx)

	dbName := cfg.Database
	if dbName == "" {
		var err error

		dbName, err = topo.DatabaseFromURI(cfg.Source)
		if err != nil {
			return nil, errors.Wrap(err, "source database")
		}
	}

	if dbName == "" {
		return nil, errors.New("source database is not set")
	}

	source, err := topo.Connect(ctx, cfg.Source)
	if err != nil {
		return nil, errors.Wrap(err, "connect to source")
	}

	defer func() {
		if err == nil {
			return
		}

		err1 := closeWithTimeout(ctx, config.DisconnectTimeout, source.Disconnect)
		if err1 != nil {
			log.Ctx(ctx).Warn("Disconnect source: " + err1.Error())
		}
	}()

	sourceVersion, err := topo.Version(ctx, source)
	if err != nil {
		return nil, errors.Wrap(err, "source version")
	}

	cs, _ := connstring.Parse(cfg.Source)
	lg.Infof("Connected to source [%s]: %s://%s/%s",
		sourceVersion, cs.Scheme, strings.Join(cs.Hosts, ","), dbName)

	target, err := search.Connect(ctx, &cfg.Target)
	if err != nil {
		return nil, errors.Wrap(err, "connect to target")
	}

	targetVersion, err := target.Version(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "target version")
	}

	lg.Infof("Connected to target [%s]: %s",
		targetVersion, strings.Join(cfg.Target.Addresses, ","))

	promRegistry := prometheus.NewRegistry()
	metrics.Init(promRegistry)

	s := &Server{
		Cfg:          cfg,
		sourceClient: source,
		slink:        slink.New(slink.NewMongoSource(source, dbName), target),
		promRegistry: promRegistry,
	}

	return s, nil
}

// syncOptions builds the sync options from the config, with request
// parameters taking precedence.
func (s *Server) syncOptions(params *startRequest) *slink.Options {
	maxBatchBytes, _ := s.Cfg.ParseMaxBatchBytes()

	options := &slink.Options{
		IndexPrefix:        s.Cfg.IndexPrefix,
		Snapshot:           s.Cfg.Snapshot,
		Debug:              s.Cfg.Debug,
		ExcludeCollections: s.Cfg.ExcludeCollections,
		SnapshotOptions: slink.SnapshotOptions{
			Parallelism:   s.Cfg.SnapshotTuning.Parallelism,
			BatchSize:     s.Cfg.SnapshotTuning.BatchSize,
			MaxBatchBytes: maxBatchBytes,
		},
	}

	if params != nil && params.Snapshot != nil {
		options.Snapshot = *params.Snapshot
	}

	return options
}

// Close closes the server connections.
func (s *Server) Close(ctx context.Context) error {
	return errors.Wrap(s.sourceClient.Disconnect(ctx), "disconnect source")
}

// closeWithTimeout runs a shutdown function with a bounded context.
func closeWithTimeout(
	ctx context.Context,
	d time.Duration,
	fn func(context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	return fn(ctx)
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", s.HandleStatus)
	mux.HandleFunc("/start", s.HandleStart)
	mux.HandleFunc("/drop", s.HandleDrop)
	mux.Handle("/metrics", s.HandleMetrics())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			log.New("http").Trace(r.Method + " " + r.URL.String())
		} else {
			log.New("http").Info(r.Method + " " + r.URL.String())
		}
		mux.ServeHTTP(w, r)
	})
}

// HandleStatus handles the /status endpoint.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w,
			http.StatusText(http.StatusMethodNotAllowed),
			http.StatusMethodNotAllowed)

		return
	}

	if r.ContentLength > MaxRequestSize {
		http.Error(w,
			http.StatusText(http.StatusRequestEntityTooLarge),
			http.StatusRequestEntityTooLarge)

		return
	}

	status := s.slink.Status()

	res := statusResponse{
		Ok:    status.Error == nil,
		State: status.State,
	}

	if status.Error != nil {
		res.Err = status.Error.Error()
	}

	if status.State == slink.StateIdle {
		writeResponse(w, res)

		return
	}

	res.EventsRead = status.Repl.EventsRead
	res.EventsApplied = status.Repl.EventsApplied
	res.EventsSkipped = status.Repl.EventsSkipped
	res.MutationFailures = status.Repl.Failures

	if status.Snapshot.IsStarted() {
		snapshot := &statusSnapshotResponse{
			Completed:        status.Snapshot.IsFinished(),
			ReadDocuments:    status.Snapshot.ReadDocuments,
			IndexedDocuments: status.Snapshot.IndexedDocuments,
			DocumentErrors:   status.Snapshot.DocErrors,
		}

		for _, coll := range status.Snapshot.Collections {
			snapshot.Collections = append(snapshot.Collections, statusCollectionResponse{
				Collection:     coll.Collection,
				Index:          coll.Index,
				SourceCount:    coll.SourceCount,
				TargetCount:    coll.TargetCount,
				CountMatch:     coll.CountMatch,
				DocumentErrors: coll.DocErrors,
				ItemErrors:     coll.ItemErrors,
			})
		}

		res.Snapshot = snapshot
	}

	switch {
	case status.State == slink.StateRunning && status.Snapshot.IsStarted() &&
		!status.Snapshot.IsFinished():
		res.Info = "Loading Snapshot"
	case status.State == slink.StateRunning:
		res.Info = "Mirroring Changes"
	case status.State == slink.StateStopped:
		res.Info = "Stopped"
	case status.State == slink.StateFailed:
		res.Info = "Failed"
	}

	writeResponse(w, res)
}

// HandleStart handles the /start endpoint.
func (s *Server) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.ServerResponseTimeout)
	defer cancel()

	if r.Method != http.MethodPost {
		http.Error(w,
			http.StatusText(http.StatusMethodNotAllowed),
			http.StatusMethodNotAllowed)

		return
	}

	if r.ContentLength > MaxRequestSize {
		http.Error(w,
			http.StatusText(http.StatusRequestEntityTooLarge),
			http.StatusRequestEntityTooLarge)

		return
	}

	var params startRequest

	if !decodeRequest(w, r, &params) {
		return
	}

	err := s.slink.Start(ctx, s.syncOptions(&params))
	if err != nil {
		writeResponse(w, startResponse{Err: err.Error()})

		return
	}

	writeResponse(w, startResponse{Ok: true})
}

// HandleDrop handles the /drop endpoint.
func (s *Server) HandleDrop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.ServerResponseTimeout)
	defer cancel()

	if r.Method != http.MethodPost {
		http.Error(w,
			http.StatusText(http.StatusMethodNotAllowed),
			http.StatusMethodNotAllowed)

		return
	}

	if r.ContentLength > MaxRequestSize {
		http.Error(w,
			http.StatusText(http.StatusRequestEntityTooLarge),
			http.StatusRequestEntityTooLarge)

		return
	}

	var params dropRequest

	if !decodeRequest(w, r, &params) {
		return
	}

	err := s.slink.DropIndexes(ctx, &slink.DropOptions{
		IndexPrefix:        s.Cfg.IndexPrefix,
		Collections:        params.Collections,
		ExcludeCollections: s.Cfg.ExcludeCollections,
	})
	if err != nil {
		writeResponse(w, dropResponse{Err: err.Error()})

		return
	}

	writeResponse(w, dropResponse{Ok: true})
}

// decodeRequest decodes the request body into params. A false return means
// the response has already been written.
func decodeRequest(w http.ResponseWriter, r *http.Request, params any) bool {
	if r.ContentLength == 0 {
		return true
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w,
			http.StatusText(http.StatusInternalServerError),
			http.StatusInternalServerError)

		return false
	}

	err = json.Unmarshal(data, params)
	if err != nil {
		http.Error(w,
			http.StatusText(http.StatusBadRequest),
			http.StatusBadRequest)

		return false
	}

	return true
}

func (s *Server) HandleMetrics() http.Handler {
	return promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{})
}

// writeResponse writes the response as JSON to the ResponseWriter.
func writeResponse[T any](w http.ResponseWriter, resp T) {
	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		http.Error(w,
			http.StatusText(http.StatusInternalServerError),
			http.StatusInternalServerError)
	}
}

// startRequest represents the request body for the /start endpoint.
type startRequest struct {
	// Snapshot overrides the configured snapshot setting. Pointer type to
	// distinguish "not set" from false.
	Snapshot *bool `json:"snapshot,omitempty"`
}

// startResponse represents the response body for the /start endpoint.
type startResponse struct {
	// Ok indicates if the operation was successful.
	Ok bool `json:"ok"`
	// Err is the error message if the operation failed.
	Err string `json:"error,omitempty"`
}

// dropRequest represents the request body for the /drop endpoint. The index
// names are derived from the collection names, so indexes of collections that
// no longer exist on the source can still be dropped.
type dropRequest struct {
	Collections []string `json:"collections"`
}

// dropResponse represents the response body for the /drop endpoint.
type dropResponse struct {
	// Ok indicates if the operation was successful.
	Ok bool `json:"ok"`
	// Err is the error message if the operation failed.
	Err string `json:"error,omitempty"`
}

// statusResponse represents the response body for the /status endpoint.
type statusResponse struct {
	// Ok indicates if the sync is healthy.
	Ok bool `json:"ok"`
	// Err is the error message if the sync failed.
	Err string `json:"error,omitempty"`

	// State is the current state of the sync.
	State slink.State `json:"state"`
	// Info provides additional information about the current state.
	Info string `json:"info,omitempty"`

	// EventsRead is the number of events read from the change feed.
	EventsRead int64 `json:"eventsRead"`
	// EventsApplied is the number of mutations applied to the store.
	EventsApplied int64 `json:"eventsApplied"`
	// EventsSkipped is the number of events that required no mutation.
	EventsSkipped int64 `json:"eventsSkipped"`
	// MutationFailures is the number of mutations the store rejected.
	MutationFailures int64 `json:"mutationFailures"`

	// Snapshot contains the snapshot load status details.
	Snapshot *statusSnapshotResponse `json:"snapshot,omitempty"`
}

// statusSnapshotResponse represents the snapshot status in the /status
// response.
type statusSnapshotResponse struct {
	// Completed indicates if the snapshot load is completed.
	Completed bool `json:"completed"`

	// ReadDocuments is the number of documents read from the source.
	ReadDocuments int64 `json:"readDocuments"`
	// IndexedDocuments is the number of documents accepted by the store.
	IndexedDocuments int64 `json:"indexedDocuments"`
	// DocumentErrors is the number of documents the store rejected.
	DocumentErrors int64 `json:"documentErrors"`

	// Collections lists the per-collection outcomes.
	Collections []statusCollectionResponse `json:"collections,omitempty"`
}

type statusCollectionResponse struct {
	Collection     string `json:"collection"`
	Index          string `json:"index"`
	SourceCount    int64  `json:"sourceCount"`
	TargetCount    int64  `json:"targetCount"`
	CountMatch     bool   `json:"countMatch"`
	DocumentErrors int64  `json:"documentErrors,omitempty"`

	// ItemErrors lists the documents the store rejected during the load.
	ItemErrors []search.ItemError `json:"itemErrors,omitempty"`
}

// SLinkClient is a thin HTTP client for the control server.
type SLinkClient struct {
	port int
}

func NewClient(port int) SLinkClient {
	return SLinkClient{port: port}
}

// Status sends a request to get the status of the sync.
func (c SLinkClient) Status(ctx context.Context) error {
	return doClientRequest[statusResponse](ctx, c.port, http.MethodGet, "status", nil)
}

// Start sends a request to start the sync.
func (c SLinkClient) Start(ctx context.Context, req startRequest) error {
	return doClientRequest[startResponse](ctx, c.port, http.MethodPost, "start", req)
}

// Drop sends a request to drop the search indexes derived from the named
// collections.
func (c SLinkClient) Drop(ctx context.Context, req dropRequest) error {
	return doClientRequest[dropResponse](ctx, c.port, http.MethodPost, "drop", req)
}

func doClientRequest[T any](ctx context.Context, port int, method, path string, body any) error {
	url := fmt.Sprintf("http://localhost:%d/%s", port, path)

	bodyData := []byte("")
	if body != nil {
		var err error
		bodyData, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyData))
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	log.Ctx(ctx).Debugf("%s /%s %s", method, path, string(bodyData))

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request")
	}
	defer res.Body.Close()

	var resp T

	err = json.NewDecoder(res.Body).Decode(&resp)
	if err != nil {
		return errors.Wrap(err, "decode response")
	}

	j := json.NewEncoder(os.Stdout)
	j.SetIndent("", "  ")
	err = j.Encode(resp)

	return errors.Wrap(err, "print response")
}
