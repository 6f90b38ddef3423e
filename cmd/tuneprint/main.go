// Command tuneprint is the audio-fingerprinting CLI: register audio
// into a catalog, recognize clips against it, and inspect the index.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"tuneprint/internal/audio"
	"tuneprint/internal/engine"
	"tuneprint/internal/enrich"
	"tuneprint/internal/index"
	"tuneprint/pkg/config"
	"tuneprint/pkg/logger"
	"tuneprint/pkg/model"
)

const cachedSongEntries = 256

var (
	dbPath      string
	workers     int
	optimized   bool
	backendFlag string
)

func init() {
	flag.StringVar(&dbPath, "db", envOrDefault("DB_PATH", config.Default().DBPath), "path to the index database")
	flag.IntVar(&workers, "workers", config.Default().Workers, "max parallel chunk workers for the long-clip path")
	flag.BoolVar(&optimized, "optimized", config.Default().Mode == model.ModeOptimized, "use the quality-gated peak-detection policy (false selects legacy)")
	flag.StringVar(&backendFlag, "index-backend", "sqlite", "hash index backend: sqlite or badger")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	log := logger.GetLogger()
	command := args[0]
	rest := args[1:]

	rec, store, err := buildRecognizer()
	if err != nil {
		color.Red("failed to open index: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	switch command {
	case "register":
		exitIfErr(handleRegister(ctx, rec, rest))
	case "recognize":
		if !handleRecognize(ctx, rec, rest) {
			os.Exit(1)
		}
	case "stats":
		exitIfErr(handleStats(ctx, rec))
	case "fingerprint":
		exitIfErr(handleFingerprint(ctx, rec, rest))
	case "list":
		exitIfErr(handleList(ctx, store))
	case "delete":
		exitIfErr(handleDelete(ctx, store, rest))
	case "shell":
		exitIfErr(runShell(ctx, rec, store))
	default:
		log.Warn("unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

func exitIfErr(err error) {
	if err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func buildRecognizer() (*engine.Recognizer, index.Storage, error) {
	mode := model.ModeOptimized
	if !optimized {
		mode = model.ModeLegacy
	}
	backend := config.BackendSQLite
	if backendFlag == "badger" {
		backend = config.BackendBadger
	}
	cfg := config.Build(
		config.WithDBPath(dbPath),
		config.WithWorkers(workers),
		config.WithMode(mode),
		config.WithBackend(backend),
	)

	var backing index.Storage
	var err error
	switch cfg.Backend {
	case config.BackendBadger:
		backing, err = index.NewBadgerStore(cfg.DBPath)
	default:
		backing, err = index.NewSQLiteStore(cfg.DBPath)
	}
	if err != nil {
		return nil, nil, err
	}

	store, err := index.NewCachedStore(backing, cachedSongEntries)
	if err != nil {
		return nil, nil, err
	}

	return engine.New(store, cfg), store, nil
}

func handleRegister(ctx context.Context, rec *engine.Recognizer, args []string) error {
	fset := flag.NewFlagSet("register", flag.ContinueOnError)
	youtubeURL := fset.String("youtube-url", "", "download and register a single YouTube video instead of scanning a directory")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if *youtubeURL != "" {
		return handleRegisterYouTube(ctx, rec, *youtubeURL)
	}

	rest := fset.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: tuneprint register <directory> | tuneprint register --youtube-url <url>")
	}
	root := rest[0]

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if audio.SupportedExtensions[ext] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}

	color.Cyan("found %d supported audio files under %s", len(files), root)

	var registered, skipped, failed int
	start := time.Now()
	for _, path := range files {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		meta := audio.ReadFileMetadata(ctx, path)
		report, err := rec.Ingest(ctx, path, model.Song{Title: meta.Title, Artist: meta.Artist, Album: meta.Album})
		cancel()
		if err != nil {
			color.Yellow("skip %s: %v", path, err)
			failed++
			continue
		}
		switch {
		case report.AlreadyRegistered:
			skipped++
			fmt.Printf("  already registered: %s\n", path)
		case report.Skipped:
			skipped++
			fmt.Printf("  skipped (%s): %s\n", report.SkipReason, path)
		default:
			registered++
			color.Green("  registered %s (%s peaks, %s hashes)", path,
				humanize.Comma(int64(report.PeakCount)), humanize.Comma(int64(report.FingerprintCount)))
		}
	}

	color.Cyan("done in %s: %d registered, %d skipped, %d failed", time.Since(start).Round(time.Millisecond), registered, skipped, failed)
	return nil
}

func handleRegisterYouTube(ctx context.Context, rec *engine.Recognizer, videoURL string) error {
	tmpDir, err := os.MkdirTemp("", "tuneprint-youtube-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	color.Cyan("downloading %s", videoURL)
	path, meta, err := enrich.FetchAndDownload(ctx, videoURL, tmpDir)
	if err != nil {
		return fmt.Errorf("fetching youtube audio: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	report, err := rec.Ingest(ctx, path, model.Song{Title: meta.Title, Artist: meta.Artist})
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", videoURL, err)
	}

	switch {
	case report.AlreadyRegistered:
		fmt.Printf("already registered: %s\n", videoURL)
	case report.Skipped:
		fmt.Printf("skipped (%s): %s\n", report.SkipReason, videoURL)
	default:
		color.Green("registered %s (%s peaks, %s hashes)", videoURL,
			humanize.Comma(int64(report.PeakCount)), humanize.Comma(int64(report.FingerprintCount)))
	}
	return nil
}

func handleRecognize(ctx context.Context, rec *engine.Recognizer, args []string) bool {
	if len(args) == 0 {
		color.Red("usage: tuneprint recognize <file>")
		return false
	}

	start := time.Now()
	result, err := rec.Recognize(ctx, args[0])
	if err != nil {
		color.Red("recognition failed: %v", err)
		return false
	}
	elapsed := time.Since(start)

	if !result.Matched {
		color.Yellow("no match (%s)", elapsed.Round(time.Millisecond))
		return false
	}

	color.Green("match: %q by %s", result.Song.Title, result.Song.Artist)
	fmt.Printf("  score: %s  matches: %s  offset: %.2fs  (%s)\n",
		humanize.Comma(int64(result.Score)), humanize.Comma(int64(result.MatchCount)),
		result.OffsetSeconds, elapsed.Round(time.Millisecond))
	return true
}

func handleStats(ctx context.Context, rec *engine.Recognizer) error {
	totalSongs, totalHashes, err := rec.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("total_songs: %s\ntotal_hashes: %s\n", humanize.Comma(totalSongs), humanize.Comma(totalHashes))
	return nil
}

func handleFingerprint(ctx context.Context, rec *engine.Recognizer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tuneprint fingerprint <file>")
	}
	fps, err := rec.Fingerprint(ctx, args[0])
	if err != nil {
		return err
	}
	for _, fp := range fps {
		fmt.Printf("%012x  t=%.3f\n", fp.Hash, fp.AnchorTime)
	}
	color.Cyan("%s hashes", humanize.Comma(int64(len(fps))))
	return nil
}

func handleList(ctx context.Context, store index.Storage) error {
	songs, err := store.ListSongs(ctx)
	if err != nil {
		return err
	}
	if len(songs) == 0 {
		fmt.Println("no songs registered")
		return nil
	}
	for _, s := range songs {
		fmt.Printf("%s  %q by %s\n", s.SongID, s.Title, s.Artist)
	}
	return nil
}

func handleDelete(ctx context.Context, store index.Storage, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tuneprint delete <song_id>")
	}
	return store.DeleteSong(ctx, args[0])
}

func runShell(ctx context.Context, rec *engine.Recognizer, store index.Storage) error {
	rl, err := readline.New("tuneprint> ")
	if err != nil {
		return fmt.Errorf("starting shell: %w", err)
	}
	defer rl.Close()

	color.Cyan("tuneprint interactive shell — commands: register, recognize, stats, fingerprint, list, delete, exit")
	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, rest := fields[0], fields[1:]
		switch cmd {
		case "exit", "quit":
			return nil
		case "register":
			exitIfErrInShell(handleRegister(ctx, rec, rest))
		case "recognize":
			handleRecognize(ctx, rec, rest)
		case "stats":
			exitIfErrInShell(handleStats(ctx, rec))
		case "fingerprint":
			exitIfErrInShell(handleFingerprint(ctx, rec, rest))
		case "list":
			exitIfErrInShell(handleList(ctx, store))
		case "delete":
			exitIfErrInShell(handleDelete(ctx, store, rest))
		default:
			color.Yellow("unknown shell command: %s", cmd)
		}
	}
}

func exitIfErrInShell(err error) {
	if err != nil {
		color.Red("error: %v", err)
	}
}

func printUsage() {
	fmt.Println("tuneprint — audio fingerprinting")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tuneprint [flags] register <directory>")
	fmt.Println("  tuneprint [flags] register --youtube-url <url>")
	fmt.Println("  tuneprint [flags] recognize <file>")
	fmt.Println("  tuneprint [flags] stats")
	fmt.Println("  tuneprint [flags] fingerprint <file>")
	fmt.Println("  tuneprint [flags] list")
	fmt.Println("  tuneprint [flags] delete <song_id>")
	fmt.Println("  tuneprint [flags] shell")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
