package hakari

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	port         int
	storage      string
	databaseURL  string
	sqlitePath   string
	manifestPath string
	logger       *slog.Logger
	version      string
	algorithms   []Algorithm
	middlewares  []Middleware
}

// WithPort overrides the TCP port from config (HAKARI_PORT).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithPostgres selects the Postgres backend at url, overriding HAKARI_STORAGE
// and DATABASE_URL.
func WithPostgres(url string) Option {
	return func(o *resolvedOptions) {
		o.storage = "postgres"
		o.databaseURL = url
	}
}

// WithSQLite selects the embedded SQLite backend at path (":memory:" for a
// throwaway database), overriding HAKARI_STORAGE and HAKARI_SQLITE_PATH.
func WithSQLite(path string) Option {
	return func(o *resolvedOptions) {
		o.storage = "sqlite"
		o.sqlitePath = path
	}
}

// WithManifest overrides the registry manifest path (HAKARI_MANIFEST).
func WithManifest(path string) Option {
	return func(o *resolvedOptions) { o.manifestPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAlgorithm registers an in-process algorithm before the manifest is
// replayed. Multiple algorithms may be registered.
func WithAlgorithm(alg Algorithm) Option {
	return func(o *resolvedOptions) { o.algorithms = append(o.algorithms, alg) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Applied in registration order: the first-registered middleware is
// outermost.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
