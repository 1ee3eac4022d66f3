package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/iSoldLeo/DynamicAPI/internal/config"
	"github.com/iSoldLeo/DynamicAPI/internal/history"
	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
	"github.com/iSoldLeo/DynamicAPI/pkg/client"
	"github.com/iSoldLeo/DynamicAPI/pkg/httpclient"
	"github.com/iSoldLeo/DynamicAPI/pkg/mapping"
	"github.com/iSoldLeo/DynamicAPI/pkg/processor"
)

// Processor names usable in an operation's processors list.
const (
	ProcessorSign      = "sign"
	ProcessorRequestID = "request_id"
	ProcessorOAuth2    = "oauth2"
)

// SessionOptions configures Open.
type SessionOptions struct {
	// ConfigPath is the API document. Falls back to Settings.Config.
	ConfigPath string
	// Profile overrides Settings.Profile.
	Profile  string
	Settings *config.Settings
	Logger   *zap.Logger

	// Doer replaces the HTTP client built from settings.
	Doer httpclient.HTTPDoer

	// NoHistory disables the call history for this session.
	NoHistory bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Session is a loaded document plus a client wired from settings.
type Session struct {
	Settings *config.Settings
	Document *apiconfig.Document
	Client   *client.Client
	Recorder *history.Manager
	Logger   *zap.Logger

	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
	color       bool
}

// Open loads the document and builds the client.
func Open(ctx context.Context, opts SessionOptions) (*Session, error) {
	settings := opts.Settings
	if settings == nil {
		loaded, err := config.LoadSettings("")
		if err != nil {
			return nil, err
		}
		settings = loaded
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	path := opts.ConfigPath
	if path == "" {
		path = settings.Config
	}
	if path == "" {
		return nil, fmt.Errorf("no API document given (use --config or set config in %s)", config.SettingsFile)
	}
	doc, err := apiconfig.LoadFile(path)
	if err != nil {
		return nil, err
	}

	profile := opts.Profile
	if profile == "" {
		profile = settings.Profile
	}
	if profile != "" {
		if _, ok := doc.Profiles[profile]; !ok {
			logger.Warn("profile not found in document, using globals", zap.String("profile", profile))
		}
	}

	resolver := apiconfig.NewResolver(doc,
		apiconfig.WithProfile(profile),
		apiconfig.WithSecurityPolicy(apiconfig.SecurityPolicy{
			RequireHTTPS:     settings.RequireHTTPS(),
			AllowedBaseHosts: settings.Security.AllowedHosts,
		}),
		apiconfig.WithLogger(logger),
	)

	s := &Session{
		Settings: settings,
		Document: doc,
		Logger:   logger,
		stdin:    opts.Stdin,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
	}
	if s.stdin == nil {
		s.stdin = os.Stdin
		s.interactive = isatty.IsTerminal(os.Stdin.Fd())
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
		s.color = isatty.IsTerminal(os.Stdout.Fd())
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}

	doer := opts.Doer
	if doer == nil {
		built, err := httpclient.New(httpclient.Options{
			Timeout: requestTimeout(settings, doc),
			TLS:     settings.TLS,
		})
		if err != nil {
			return nil, err
		}
		doer = built
	}

	clientOpts := []client.Option{
		client.WithHTTPClient(doer),
		client.WithLogger(logger),
	}
	if settings.HistoryEnabled() && !opts.NoHistory {
		mgr, err := history.NewManager(settings.History.Path, logger)
		if err != nil {
			logger.Warn("history disabled", zap.Error(err))
		} else {
			s.Recorder = mgr
			clientOpts = append(clientOpts, client.WithRecorder(mgr))
		}
	}

	s.Client = client.New(resolver, clientOpts...)
	if err := registerMappers(s.Client, settings); err != nil {
		s.Close()
		return nil, err
	}
	registerProcessors(ctx, s.Client, settings)

	return s, nil
}

// OpenHistory opens only the call history, for commands that need no document.
func OpenHistory(settings *config.Settings, logger *zap.Logger) (*Session, error) {
	if !settings.HistoryEnabled() {
		return nil, fmt.Errorf("history is disabled")
	}
	mgr, err := history.NewManager(settings.History.Path, logger)
	if err != nil {
		return nil, err
	}
	return &Session{
		Settings: settings,
		Recorder: mgr,
		Logger:   logger,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}, nil
}

// Close releases the history database.
func (s *Session) Close() error {
	if s.Recorder != nil {
		return s.Recorder.Close()
	}
	return nil
}

func requestTimeout(settings *config.Settings, doc *apiconfig.Document) time.Duration {
	if settings.TimeoutSeconds > 0 {
		return time.Duration(settings.TimeoutSeconds * float64(time.Second))
	}
	if t := doc.Globals.Timeout; t != nil && *t > 0 {
		return time.Duration(*t * float64(time.Second))
	}
	return httpclient.DefaultTimeout
}

func registerMappers(c *client.Client, settings *config.Settings) error {
	c.RegisterMapper("json", mapping.JSON)
	c.RegisterMapper("raw", mapping.Raw)

	names := make([]string, 0, len(settings.Mappers))
	for name := range settings.Mappers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := settings.Mappers[name]
		if m.Path != "" {
			c.RegisterMapper(name, mapping.KeyPath{Path: m.Path})
			continue
		}
		jm, err := mapping.NewJMESPath(m.JMESPath)
		if err != nil {
			return fmt.Errorf("mapper %q: %w", name, err)
		}
		c.RegisterMapper(name, jm)
	}
	return nil
}

func registerProcessors(ctx context.Context, c *client.Client, settings *config.Settings) {
	c.RegisterProcessor(ProcessorRequestID, processor.RequestID{Header: settings.RequestIDHeader})

	if settings.Signing.Secret != "" {
		c.RegisterProcessor(ProcessorSign, processor.Signer{
			Secret: settings.Signing.Secret,
			Param:  settings.Signing.Param,
			Header: settings.Signing.Header,
		})
	}

	if settings.OAuth.TokenURL != "" {
		c.RegisterProcessor(ProcessorOAuth2, processor.NewClientCredentials(ctx, &clientcredentials.Config{
			ClientID:     settings.OAuth.ClientID,
			ClientSecret: settings.OAuth.ClientSecret,
			TokenURL:     settings.OAuth.TokenURL,
			Scopes:       settings.OAuth.Scopes,
		}))
	}
}
