// Package enrich is the out-of-core-scope collaborator that resolves
// a YouTube URL to a locally downloaded audio file plus best-effort
// metadata, for the CLI's --youtube-url register mode.
package enrich

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	tplog "tuneprint/pkg/logger"
)

// Metadata is the best-effort {title, artist} pair for a downloaded
// video. FetchAndDownload sets Title and Artist to "Unknown" and leaves
// VideoID empty; it does not read the video's own info.
type Metadata struct {
	Title  string
	Artist string
	VideoID string
}

// IsYouTubeURL reports whether rawURL points at youtube.com/youtu.be.
func IsYouTubeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	return strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be")
}

// FetchAndDownload extracts the best audio track of videoURL into
// destDir as a WAV file, returning its path and placeholder metadata.
func FetchAndDownload(ctx context.Context, videoURL, destDir string) (string, Metadata, error) {
	log := tplog.Named("enrich.youtube")

	if !IsYouTubeURL(videoURL) {
		return "", Metadata{}, fmt.Errorf("not a recognized YouTube URL: %s", videoURL)
	}

	ytdlp.MustInstall(ctx, nil)

	outputTemplate := filepath.Join(destDir, "%(id)s.%(ext)s")
	dl := ytdlp.New().
		NoPlaylist().
		ExtractAudio().
		AudioFormat("wav").
		Output(outputTemplate)

	if _, err := dl.Run(ctx, videoURL); err != nil {
		return "", Metadata{}, fmt.Errorf("downloading %s: %w", videoURL, err)
	}

	// Title/artist tags are best-effort only; a richer implementation
	// would parse yt-dlp's -J info dump, out of scope here.
	meta := Metadata{Title: "Unknown", Artist: "Unknown"}

	matches, err := filepath.Glob(filepath.Join(destDir, "*.wav"))
	if err != nil || len(matches) == 0 {
		return "", Metadata{}, fmt.Errorf("no downloaded file found in %s", destDir)
	}
	path := matches[len(matches)-1]

	log.Info("downloaded %s -> %s", videoURL, path)
	return path, meta, nil
}
