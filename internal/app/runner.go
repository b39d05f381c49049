// Package app wires the command tree: configuration, provider clients, the
// invoke pipeline and the response envelope every command emits.
package app

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dev-tnsq/verbex/internal/cache"
	"github.com/dev-tnsq/verbex/internal/challenge"
	"github.com/dev-tnsq/verbex/internal/config"
	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/execution"
	"github.com/dev-tnsq/verbex/internal/httpx"
	"github.com/dev-tnsq/verbex/internal/intent"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/out"
	"github.com/dev-tnsq/verbex/internal/policy"
	"github.com/dev-tnsq/verbex/internal/providers"
	"github.com/dev-tnsq/verbex/internal/providers/blend"
	"github.com/dev-tnsq/verbex/internal/providers/defindex"
	"github.com/dev-tnsq/verbex/internal/providers/soroswap"
	"github.com/dev-tnsq/verbex/internal/registry"
	"github.com/dev-tnsq/verbex/internal/schema"
	"github.com/dev-tnsq/verbex/internal/soroban"
	"github.com/dev-tnsq/verbex/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	debug       bool
	settings    config.Settings
	network     registry.Network
	log         *zap.Logger
	cache       *cache.Store
	pending     *execution.Store
	ceremonies  challenge.Store
	root        *cobra.Command
	lastCommand string

	rpc      *soroban.Client
	pipeline *execution.Pipeline
	blend    *blend.Client
	soroswap *soroswap.Client
	defindex *defindex.Client

	// classifier overrides the Gemini client in tests.
	classifier intent.Classifier
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, ceremonies: challenge.NewMemoryStore(0)}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.closeStores()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) closeStores() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.pending != nil {
		_ = s.pending.Close()
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Stellar DeFi agent CLI for Blend, Soroswap and DeFindex",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = s.newLogger()

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			network, err := registry.ResolveNetwork(settings.Network)
			if err != nil {
				return err
			}
			if settings.SorobanRPCURL != "" {
				network.SorobanRPC = settings.SorobanRPCURL
			}
			if settings.HorizonURL != "" {
				network.HorizonURL = settings.HorizonURL
			}
			s.network = network

			if s.pipeline == nil {
				rpcHTTP := httpx.New(settings.Timeout, settings.Retries)
				partnerHTTP := httpx.New(settings.PartnerTimeout, settings.Retries)

				s.rpc = soroban.NewClient(network, rpcHTTP, s.log)
				s.pipeline = execution.NewPipeline(s.rpc, network.Passphrase, execution.DefaultConfig(), s.log)

				blendClient, err := blend.New(s.pipeline, network, s.log)
				if err != nil {
					return err
				}
				s.blend = blendClient

				soroswapClient, err := soroswap.New(partnerHTTP, s.pipeline, network, settings.SoroswapAPIKey, s.log)
				if err != nil {
					return err
				}
				s.soroswap = soroswapClient

				s.defindex = defindex.New(partnerHTTP, s.pipeline, network, settings.DefindexAPIKey, s.log)
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().StringVar(&s.flags.Network, "network", "", "Stellar network (testnet or mainnet)")
	cmd.PersistentFlags().StringVar(&s.flags.Account, "account", "", "Default G... account for operations")
	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "RPC request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per RPC request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&s.debug, "debug", false, "Log diagnostics to stderr")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newLendCommand())
	cmd.AddCommand(s.newWithdrawCommand())
	cmd.AddCommand(s.newBorrowCommand())
	cmd.AddCommand(s.newRepayCommand())
	cmd.AddCommand(s.newClaimCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newAddLiquidityCommand())
	cmd.AddCommand(s.newRemoveLiquidityCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newDepositCommand())
	cmd.AddCommand(s.newWithdrawVaultCommand())
	cmd.AddCommand(s.newCreateVaultCommand())
	cmd.AddCommand(s.newVaultsCommand())
	cmd.AddCommand(s.newPositionsCommand())
	cmd.AddCommand(s.newPoolCommand())
	cmd.AddCommand(s.newPortfolioCommand())
	cmd.AddCommand(s.newChatCommand())
	cmd.AddCommand(s.newPendingCommand())
	cmd.AddCommand(s.newSubmitSignedCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) newLogger() *zap.Logger {
	if !s.debug {
		return zap.NewNop()
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(s.runner.stderr), zapcore.DebugLevel)
	return zap.New(core)
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	return cmd
}

// positionSources returns the protocols the portfolio aggregator fans out
// over.
func (s *runtimeState) positionSources() []providers.PositionSource {
	return []providers.PositionSource{s.blend, s.soroswap, s.defindex}
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providerStatus []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Network:   s.settings.Network,
			Providers: providerStatus,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.renderOptions())
}

func (s *runtimeState) renderOptions() out.Options {
	return out.Options{
		OutputMode:   s.settings.OutputMode,
		SelectFields: s.settings.SelectFields,
		ResultsOnly:  s.settings.ResultsOnly,
	}
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	env := out.Failure(commandPath, s.settings.Network, newRequestID(), err)
	env.Meta.Cache = cacheMetaBypass()

	opts := s.renderOptions()
	if opts.OutputMode == "" {
		opts.OutputMode = "json"
	}
	// Errors always carry the full envelope.
	opts.ResultsOnly = false
	opts.SelectFields = nil
	_ = out.Render(s.runner.stderr, env, opts)
}

// runCached wraps a read-path fetch with the TTL cache: fresh hits short
// circuit, stale hits are kept as a fallback for upstream failures within
// the max-stale budget.
func (s *runtimeState) runCached(commandPath, key string, ttl time.Duration, fetch func() (any, error)) error {
	var staleValue any
	var staleStatus model.CacheStatus
	staleAvailable := false

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			var data any
			if jsonErr := json.Unmarshal(cached.Value, &data); jsonErr == nil {
				status := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
				if !cached.Stale {
					return s.emitSuccess(commandPath, data, nil, status, nil, false)
				}
				if !cached.TooStale {
					staleValue, staleStatus, staleAvailable = data, status, true
				}
			}
		}
	}

	data, err := fetch()
	if err != nil {
		if staleAvailable && staleFallbackAllowed(err) && !s.settings.NoStale {
			warnings := []string{"upstream fetch failed; serving stale data within max-stale budget"}
			return s.emitSuccess(commandPath, staleValue, warnings, staleStatus, nil, false)
		}
		return err
	}

	cacheStatus := cacheMetaMiss()
	if s.settings.CacheEnabled && s.cache != nil {
		if payload, jsonErr := json.Marshal(data); jsonErr == nil {
			_ = s.cache.Set(key, payload, ttl)
			cacheStatus = model.CacheStatus{Status: "write"}
		}
	}
	return s.emitSuccess(commandPath, data, nil, cacheStatus, nil, false)
}

func cacheKey(commandPath string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(commandPath+"|"), buf...))
	return hex.EncodeToString(sum[:])
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	return cErr.Code == clierr.CodeUnavailable || cErr.Code == clierr.CodeRateLimited
}

// shouldOpenCache skips the sqlite cache for commands that never read
// upstream data.
func shouldOpenCache(commandPath string) bool {
	path := normalizeCommandPath(commandPath)
	if path == "pending" || strings.HasPrefix(path, "pending ") {
		return false
	}
	switch path {
	case "", "version", "schema", "submit-signed":
		return false
	default:
		return true
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}
