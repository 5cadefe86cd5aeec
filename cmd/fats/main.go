// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// fats mounts a fuzzing filesystem: a passthrough mirror of a source
// directory in which every file open is served a freshly mutated copy
// produced by an external mutation tool (radamsa by default).
//
// Usage:
//
//	fats [flags] <source-dir> <mountpoint>
//
// Point the application under test at the mountpoint; every file it
// opens comes back corrupted while the source tree stays untouched.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/deepsight/FATS/lib/config"
	"github.com/deepsight/FATS/lib/corpus"
	"github.com/deepsight/FATS/lib/fuzzfs"
	"github.com/deepsight/FATS/lib/journal"
	"github.com/deepsight/FATS/lib/mutator"
	"github.com/deepsight/FATS/lib/policy"
	"github.com/deepsight/FATS/lib/process"
	"github.com/deepsight/FATS/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath        string
		mutatorCommand    string
		mutatorArgs       []string
		mutatorTimeout    string
		scratchDir        string
		policyFile        string
		journalFile       string
		corpusDir         string
		corpusCompression string
		logLevel          string
		allowOther        bool
		fuseDebug         bool
	)

	flagSet := pflag.NewFlagSet("fats", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to fats.yaml (default: $FATS_CONFIG, else built-in defaults)")
	flagSet.StringVar(&mutatorCommand, "mutator", "", "mutation tool executable (default: radamsa)")
	flagSet.StringArrayVar(&mutatorArgs, "mutator-arg", nil, "extra argument passed to the mutation tool before the source path (repeatable)")
	flagSet.StringVar(&mutatorTimeout, "timeout", "", "bound on a single mutation run, e.g. 30s (default: unbounded)")
	flagSet.StringVar(&scratchDir, "scratch-dir", "", "directory for mutated scratch artifacts (default: system temp dir)")
	flagSet.StringVar(&policyFile, "policy", "", "JSONC mutation policy file (default: mutate every open)")
	flagSet.StringVar(&journalFile, "journal", "", "append CBOR fuzz events to this file (default: disabled)")
	flagSet.StringVar(&corpusDir, "corpus-dir", "", "archive served artifacts into this directory on release (default: delete them)")
	flagSet.StringVar(&corpusCompression, "corpus-compression", "", "corpus artifact compression: none, lz4, zstd (default: zstd)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: info)")
	flagSet.BoolVar(&allowOther, "allow-other", false, "let other users access the mount (requires user_allow_other in /etc/fuse.conf)")
	flagSet.BoolVar(&fuseDebug, "debug", false, "enable FUSE protocol tracing")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Usage = func() { printUsage(flagSet) }

	// Handle --version before flag parsing to match the other
	// binaries' convention.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("fats %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printUsage(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 2 {
		printUsage(flagSet)
		return fmt.Errorf("expected <source-dir> and <mountpoint>, got %d arguments", len(args))
	}
	sourceDir, mountpoint := args[0], args[1]
	if err := checkDirectory(sourceDir); err != nil {
		return err
	}
	if err := checkDirectory(mountpoint); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Flags override the config file only when explicitly set; an
	// untouched flag must not clobber a configured value with its
	// zero default.
	if flagSet.Changed("mutator") {
		cfg.Mutator.Command = mutatorCommand
	}
	if flagSet.Changed("mutator-arg") {
		cfg.Mutator.Args = mutatorArgs
	}
	if flagSet.Changed("timeout") {
		cfg.Mutator.Timeout = mutatorTimeout
	}
	if flagSet.Changed("scratch-dir") {
		cfg.ScratchDir = scratchDir
	}
	if flagSet.Changed("policy") {
		cfg.PolicyFile = policyFile
	}
	if flagSet.Changed("journal") {
		cfg.JournalFile = journalFile
	}
	if flagSet.Changed("corpus-dir") {
		cfg.Corpus.Dir = corpusDir
	}
	if flagSet.Changed("corpus-compression") {
		cfg.Corpus.Compression = corpusCompression
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Level()
	if os.Getenv("FATS_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	options, cleanup, err := buildMountOptions(cfg, sourceDir, mountpoint, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	options.AllowOther = options.AllowOther || allowOther
	options.Debug = options.Debug || fuseDebug

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := fuzzfs.Mount(*options)
	if err != nil {
		return err
	}

	// Wait() returns when the kernel connection closes, which happens
	// on our own Unmount and on an external fusermount -u alike.
	unmounted := make(chan struct{})
	go func() {
		server.Wait()
		close(unmounted)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "signal")
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("unmounting %s: %w (close open files or run: fusermount -u %s)",
				mountpoint, err, mountpoint)
		}
		<-unmounted
	case <-unmounted:
		logger.Info("filesystem unmounted externally")
	}

	stats := server.Stats()
	logger.Info("fats session complete",
		"opens", stats.Opens,
		"fuzzed", stats.FuzzedOpens,
		"passthrough", stats.PassthroughOpens,
		"mutation_failures", stats.MutationFailures,
		"releases", stats.Releases,
		"preserved", stats.Preserved,
	)
	return nil
}

// loadConfig resolves the configuration source: an explicit --config
// path, then the FATS_CONFIG environment variable, then built-in
// defaults. Only the explicit sources may fail.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", configPath, err)
		}
		return cfg, nil
	}
	if os.Getenv("FATS_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// checkDirectory fails unless path names an existing directory. Both
// positional arguments are preflighted so a typo surfaces as a usage
// error instead of a mount failure.
func checkDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// buildMountOptions assembles the fuzzfs mount options from the
// validated configuration: the mutator, the optional policy, journal,
// and corpus store. The returned cleanup closes the journal and must
// run after the filesystem is unmounted.
func buildMountOptions(cfg *config.Config, sourceDir, mountpoint string, logger *slog.Logger) (*fuzzfs.Options, func(), error) {
	cleanup := func() {}

	timeout, err := cfg.MutationTimeout()
	if err != nil {
		return nil, nil, err
	}
	command, err := mutator.NewCommand(mutator.Options{
		Tool:       cfg.Mutator.Command,
		Args:       cfg.Mutator.Args,
		ScratchDir: cfg.ScratchDir,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, nil, err
	}

	mutationPolicy := policy.Default()
	if cfg.PolicyFile != "" {
		mutationPolicy, err = policy.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, nil, err
		}
		if err := mutationPolicy.Validate(); err != nil {
			return nil, nil, fmt.Errorf("policy %s: %w", cfg.PolicyFile, err)
		}
		logger.Info("mutation policy loaded",
			"path", cfg.PolicyFile,
			"skip_patterns", len(mutationPolicy.Skip),
			"mutate_patterns", len(mutationPolicy.Mutate),
		)
	}

	var journalWriter *journal.Writer
	if cfg.JournalFile != "" {
		journalWriter, err = journal.NewWriter(cfg.JournalFile, nil)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() {
			if err := journalWriter.Close(); err != nil {
				logger.Warn("closing journal", "error", err)
			}
		}
		logger.Info("fuzz journal enabled", "path", cfg.JournalFile)
	}

	var corpusStore *corpus.Store
	if cfg.Corpus.Dir != "" {
		compression, err := corpus.ParseCompressionTag(cfg.Corpus.Compression)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		corpusStore, err = corpus.NewStore(corpus.Options{
			Dir:         cfg.Corpus.Dir,
			Compression: compression,
			Logger:      logger,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info("corpus preservation enabled",
			"dir", cfg.Corpus.Dir,
			"compression", compression,
		)
	}

	return &fuzzfs.Options{
		SourceDir:  sourceDir,
		Mountpoint: mountpoint,
		Mutator:    command,
		Policy:     mutationPolicy,
		Journal:    journalWriter,
		Corpus:     corpusStore,
		AllowOther: cfg.Mount.AllowOther,
		Debug:      cfg.Mount.Debug,
		Logger:     logger,
	}, cleanup, nil
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `fats - serve a directory with every file open returning mutated bytes

USAGE
    fats [flags] <source-dir> <mountpoint>

The source directory is mirrored at the mountpoint. Metadata,
directory listings, and namespace operations pass through unchanged;
opening a file runs the mutation tool against the original and serves
its output instead. The original tree is never modified.

FLAGS
%s
EXAMPLES
    # Fuzz everything an image viewer reads
    fats ~/testdata/images /mnt/fuzzed
    viewer /mnt/fuzzed/sample.png

    # Keep every served artifact for crash triage
    fats --journal=run.cbor --corpus-dir=./corpus ~/seeds /mnt/fuzzed

    # Leave shared libraries alone, cap mutation time
    fats --policy=policy.jsonc --timeout=30s ~/app-root /mnt/fuzzed

ENVIRONMENT
    FATS_CONFIG   Path to fats.yaml (overridden by --config)
    FATS_DEBUG    Enable debug logging
`, flagSet.FlagUsages())
}
