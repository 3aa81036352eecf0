package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/billybjork/billybjork.com/internal/observability/logging"
	"github.com/billybjork/billybjork.com/internal/storage"
)

const (
	// stateExpiry bounds how long abandoned uploads and sessions linger.
	stateExpiry = time.Hour
	// sessionWaitTimeout bounds the sprite confirmation's wait for a
	// parallel transcode.
	sessionWaitTimeout = 5 * time.Minute
	// posterTimestampLimit rejects absurd poster offsets.
	posterTimestampLimit = 6 * time.Hour

	defaultUploadConcurrency = 4
)

// ErrInvalidInput marks caller mistakes the HTTP layer maps to 400.
var ErrInvalidInput = errors.New("invalid media input")

// ServiceConfig wires the video pipeline.
type ServiceConfig struct {
	Client      storage.Client
	Runner      Runner
	Pipeline    *Pipeline
	TempVideos  *TempVideoStore
	Sessions    *SessionStore
	Logger      *slog.Logger
	FFmpegPath  string
	FFprobePath string
	// WorkDir receives uploaded sources and transcode output; defaults to
	// the OS temp dir.
	WorkDir   string
	CDNDomain string
	// SavedHLSURL reports the playlist URL a project currently references,
	// so the expiry sweep never deletes a committed encode.
	SavedHLSURL       func(slug string) string
	UploadConcurrency int
}

// Service runs the hero-video pipeline: preview frames, HLS ladder encodes,
// sprite sheets, poster thumbnails and inline-video compression.
type Service struct {
	client     storage.Client
	runner     Runner
	prober     *Prober
	pipeline   *Pipeline
	temp       *TempVideoStore
	sessions   *SessionStore
	logger     *slog.Logger
	ffmpeg     string
	workDir    string
	cdnDomain  string
	savedHLS   func(slug string) string
	uploadConc int
	now        func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = NewRunner()
	}
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := cfg.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	uploadConc := cfg.UploadConcurrency
	if uploadConc <= 0 {
		uploadConc = defaultUploadConcurrency
	}
	savedHLS := cfg.SavedHLSURL
	if savedHLS == nil {
		savedHLS = func(string) string { return "" }
	}
	return &Service{
		client:     cfg.Client,
		runner:     runner,
		prober:     NewProber(runner, ffprobe),
		pipeline:   cfg.Pipeline,
		temp:       cfg.TempVideos,
		sessions:   cfg.Sessions,
		logger:     logging.WithComponent(logger, "media"),
		ffmpeg:     ffmpeg,
		workDir:    workDir,
		cdnDomain:  strings.TrimSpace(cfg.CDNDomain),
		savedHLS:   savedHLS,
		uploadConc: uploadConc,
		now:        time.Now,
	}
}

// TempVideos exposes the temp-video store for status handlers.
func (s *Service) TempVideos() *TempVideoStore { return s.temp }

// Sessions exposes the session store for status handlers.
func (s *Service) Sessions() *SessionStore { return s.sessions }

// SaveUpload spools an uploaded source into the work directory and returns
// its path.
func (s *Service) SaveUpload(r io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".mp4"
	}
	tmp, err := os.CreateTemp(s.workDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close upload: %w", err)
	}
	return tmp.Name(), nil
}

// discardUpload removes a spooled upload that never made it into the
// temp-video store. Without a store entry the expiry sweep cannot reclaim it.
func (s *Service) discardUpload(source string, remote bool) {
	if remote {
		return
	}
	if err := os.Remove(source); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove rejected upload", "path", source, "error", err)
	}
}

// StartFrameExtraction probes the source, extracts the initial preview
// frames synchronously and schedules the rest in the background. Returns the
// temp-video entry including the initial frames.
func (s *Service) StartFrameExtraction(ctx context.Context, source string, remote bool) (TempVideo, error) {
	info, err := s.prober.Probe(ctx, source)
	if err != nil {
		s.discardUpload(source, remote)
		return TempVideo{}, err
	}
	entry := s.temp.Create(source, remote)
	if _, err := s.temp.Update(entry.ID, TempVideoUpdate{
		Width:    &info.Width,
		Height:   &info.Height,
		Duration: &info.Duration,
	}); err != nil {
		s.discardUpload(source, remote)
		return TempVideo{}, err
	}

	initial, err := extractFrames(ctx, s.runner, s.ffmpeg, source, info.Duration, InitialFrameCount)
	if err != nil {
		s.temp.Delete(entry.ID)
		s.discardUpload(source, remote)
		return TempVideo{}, err
	}
	entry, err = s.temp.Update(entry.ID, TempVideoUpdate{Frames: &initial})
	if err != nil {
		s.discardUpload(source, remote)
		return TempVideo{}, err
	}

	id := entry.ID
	s.pipeline.Enqueue("frames:"+id, func(jobCtx context.Context) {
		frames, err := extractFrames(jobCtx, s.runner, s.ffmpeg, source, info.Duration, TotalFrameCount)
		complete := true
		update := TempVideoUpdate{FramesComplete: &complete}
		if err != nil {
			message := err.Error()
			update.Error = &message
			s.logger.Error("background frame extraction failed", "temp_id", id, "error", err)
		} else {
			update.Frames = &frames
		}
		if _, err := s.temp.Update(id, update); err != nil && !errors.Is(err, ErrStateNotFound) {
			s.logger.Error("failed to record extracted frames", "temp_id", id, "error", err)
		}
	})
	return entry, nil
}

// StartHLS schedules an HLS encode for a temp video and returns the session
// to poll.
func (s *Service) StartHLS(tempID, slug string) (Session, error) {
	entry, ok := s.temp.Get(tempID)
	if !ok {
		return Session{}, fmt.Errorf("temp video %s: %w", tempID, ErrStateNotFound)
	}
	session := s.sessions.Create(tempID, slug)
	accepted := s.pipeline.Enqueue("hls:"+session.ID, func(jobCtx context.Context) {
		s.runHLSJob(jobCtx, session.ID, slug, entry.SourcePath)
	})
	if !accepted {
		s.failSession(session.ID, fmt.Errorf("pipeline is shutting down"))
	}
	return session, nil
}

func (s *Service) runHLSJob(ctx context.Context, sessionID, slug, source string) {
	s.setStage(sessionID, "Analyzing video", 0)
	info, err := s.prober.Probe(ctx, source)
	if err != nil {
		s.failSession(sessionID, err)
		return
	}

	outputDir, err := os.MkdirTemp(s.workDir, "hls-*")
	if err != nil {
		s.failSession(sessionID, fmt.Errorf("create output dir: %w", err))
		return
	}
	defer func() {
		_ = os.RemoveAll(outputDir)
	}()

	plan, err := BuildHLSPlan(source, outputDir, info)
	if err != nil {
		s.failSession(sessionID, err)
		return
	}

	s.setStage(sessionID, "Transcoding", 0)
	parser := newProgressParser(info.Duration)
	err = s.runner.Run(ctx, s.ffmpeg, plan.Args, func(line string) {
		if percent, ok := parser.Parse(line); ok {
			// Transcode is the bulk of the work; uploads take the rest.
			scaled := percent * 90 / 100
			if _, err := s.sessions.Update(sessionID, SessionUpdate{Progress: &scaled}); err != nil {
				return
			}
		}
	})
	if err != nil {
		s.failSession(sessionID, err)
		return
	}

	s.setStage(sessionID, "Uploading renditions", 90)
	version := NewVersion(s.now())
	if err := s.uploadRenditions(ctx, outputDir, slug, version); err != nil {
		s.failSession(sessionID, err)
		return
	}

	masterURL := s.client.PublicURL(MasterPlaylistKey(slug, version))
	complete := StatusComplete
	done := 100
	stage := "Complete"
	if _, err := s.sessions.Update(sessionID, SessionUpdate{
		Status:   &complete,
		Stage:    &stage,
		Progress: &done,
		HLSURL:   &masterURL,
	}); err != nil {
		s.logger.Error("failed to finalize hls session", "session_id", sessionID, "error", err)
		return
	}
	s.logger.Info("hls encode complete", "slug", slug, "version", version, "hls_url", masterURL)
}

// uploadRenditions pushes every playlist and segment under a fresh version
// prefix, in parallel with bounded concurrency.
func (s *Service) uploadRenditions(ctx context.Context, outputDir, slug, version string) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.uploadConc)
	prefix := HLSPrefix(slug, version)

	err := filepath.WalkDir(outputDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(outputDir, p)
		if err != nil {
			return err
		}
		key := prefix + filepath.ToSlash(relative)
		group.Go(func() error {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read rendition %s: %w", relative, err)
			}
			if _, err := s.client.Upload(groupCtx, key, hlsContentType(relative), "public, max-age=31536000, immutable", data); err != nil {
				return err
			}
			return nil
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk hls output: %w", err)
	}
	return group.Wait()
}

func hlsContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

func (s *Service) setStage(sessionID, stage string, progress int) {
	if _, err := s.sessions.Update(sessionID, SessionUpdate{Stage: &stage, Progress: &progress}); err != nil {
		s.logger.Warn("failed to update session stage", "session_id", sessionID, "error", err)
	}
}

func (s *Service) failSession(sessionID string, cause error) {
	status := StatusError
	message := cause.Error()
	if _, err := s.sessions.Update(sessionID, SessionUpdate{Status: &status, Error: &message}); err != nil {
		s.logger.Error("failed to record session failure", "session_id", sessionID, "error", err)
	}
	s.logger.Error("hls encode failed", "session_id", sessionID, "error", cause)
}

// SpriteParams selects the scrubber window for a pending upload.
type SpriteParams struct {
	TempID    string
	Slug      string
	Start     float64
	End       float64
	FPS       float64
	SessionID string
}

// SpriteResult combines sprite, poster and (when a session was supplied) the
// finished HLS playlist.
type SpriteResult struct {
	SpriteSheetURL string
	ThumbnailURL   string
	HLSURL         string
	Meta           SpriteMeta
	VideoWidth     int
	VideoHeight    int
}

// GenerateSpriteAndThumbnail renders the sprite sheet and poster for the
// selected window, uploads both, and waits (bounded) for the parallel HLS
// encode before claiming the temp video.
func (s *Service) GenerateSpriteAndThumbnail(ctx context.Context, params SpriteParams) (SpriteResult, error) {
	if params.Slug == "" {
		return SpriteResult{}, fmt.Errorf("%w: slug is required", ErrInvalidInput)
	}
	if params.End <= params.Start {
		return SpriteResult{}, fmt.Errorf("%w: sprite window end must be after start", ErrInvalidInput)
	}
	entry, ok := s.temp.Get(params.TempID)
	if !ok {
		return SpriteResult{}, fmt.Errorf("temp video %s: %w", params.TempID, ErrStateNotFound)
	}

	version := NewVersion(s.now())
	spritePath := filepath.Join(s.workDir, fmt.Sprintf("sprite-%s-%s.jpg", params.Slug, version))
	posterPath := filepath.Join(s.workDir, fmt.Sprintf("poster-%s-%s.webp", params.Slug, version))
	defer func() {
		_ = os.Remove(spritePath)
		_ = os.Remove(posterPath)
	}()

	meta, err := generateSpriteSheet(ctx, s.runner, s.ffmpeg, entry.SourcePath, params.Start, params.End, params.FPS, spritePath)
	if err != nil {
		return SpriteResult{}, err
	}
	if err := generatePoster(ctx, s.runner, s.ffmpeg, entry.SourcePath, params.Start, posterPath); err != nil {
		return SpriteResult{}, err
	}

	spriteData, err := os.ReadFile(spritePath)
	if err != nil {
		return SpriteResult{}, fmt.Errorf("read sprite sheet: %w", err)
	}
	spriteRef, err := s.client.Upload(ctx, SpriteSheetKey(params.Slug, version), "image/jpeg", "public, max-age=31536000, immutable", spriteData)
	if err != nil {
		return SpriteResult{}, err
	}
	posterData, err := os.ReadFile(posterPath)
	if err != nil {
		return SpriteResult{}, fmt.Errorf("read poster: %w", err)
	}
	posterRef, err := s.client.Upload(ctx, ThumbnailKey(params.Slug, version), "image/webp", "public, max-age=31536000, immutable", posterData)
	if err != nil {
		return SpriteResult{}, err
	}

	result := SpriteResult{
		SpriteSheetURL: spriteRef.URL,
		ThumbnailURL:   posterRef.URL,
		Meta:           meta,
		VideoWidth:     entry.Width,
		VideoHeight:    entry.Height,
	}

	if params.SessionID != "" {
		session, err := s.sessions.Wait(ctx, params.SessionID, sessionWaitTimeout)
		if err != nil {
			return result, err
		}
		if session.Status == StatusError {
			return result, fmt.Errorf("hls encode failed: %s", session.Error)
		}
		result.HLSURL = session.HLSURL
		generated := true
		if _, err := s.sessions.Update(params.SessionID, SessionUpdate{SpriteGenerated: &generated}); err != nil {
			s.logger.Warn("failed to mark sprite generated", "session_id", params.SessionID, "error", err)
		}
	}

	if claimed, ok := s.temp.Pop(params.TempID); ok && !claimed.Remote {
		_ = os.Remove(claimed.SourcePath)
	}
	return result, nil
}

// ProcessContentVideo compresses an inline content video and uploads it
// under the mp4 prefix. The spooled source is removed on every path since it
// is never tracked by the temp-video store. Returns the public URL.
func (s *Service) ProcessContentVideo(ctx context.Context, source, filename string) (string, error) {
	defer func() {
		_ = os.Remove(source)
	}()
	info, err := s.prober.Probe(ctx, source)
	if err != nil {
		return "", err
	}
	outPath := filepath.Join(s.workDir, fmt.Sprintf("content-%d.mp4", s.now().UnixNano()))
	defer func() {
		_ = os.Remove(outPath)
	}()
	if err := compressContentVideo(ctx, s.runner, s.ffmpeg, source, outPath, info.Height); err != nil {
		return "", err
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("read compressed video: %w", err)
	}
	ref, err := s.client.Upload(ctx, ContentVideoKey(filename), "video/mp4", "public, max-age=31536000, immutable", data)
	if err != nil {
		return "", err
	}
	return ref.URL, nil
}

// PosterFromVideoURL extracts a poster frame from an already-hosted video at
// the given timestamp and uploads it as a webp thumbnail.
func (s *Service) PosterFromVideoURL(ctx context.Context, videoURL string, timestamp float64) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(videoURL))
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: malformed video URL", ErrInvalidInput)
	}
	if s.cdnDomain == "" || !strings.EqualFold(parsed.Host, s.cdnDomain) {
		return "", fmt.Errorf("%w: video URL must be on %s", ErrInvalidInput, s.cdnDomain)
	}
	if timestamp < 0 || timestamp > posterTimestampLimit.Seconds() {
		return "", fmt.Errorf("%w: poster timestamp out of range", ErrInvalidInput)
	}

	version := NewVersion(s.now())
	base := strings.TrimSuffix(path.Base(parsed.Path), path.Ext(parsed.Path))
	posterPath := filepath.Join(s.workDir, fmt.Sprintf("poster-%s-%s.webp", base, version))
	defer func() {
		_ = os.Remove(posterPath)
	}()
	if err := generatePoster(ctx, s.runner, s.ffmpeg, videoURL, timestamp, posterPath); err != nil {
		return "", err
	}
	data, err := os.ReadFile(posterPath)
	if err != nil {
		return "", fmt.Errorf("read poster: %w", err)
	}
	key := fmt.Sprintf("%s%s_poster_%s.webp", thumbnailPrefix, base, version)
	ref, err := s.client.Upload(ctx, key, "image/webp", "public, max-age=31536000, immutable", data)
	if err != nil {
		return "", err
	}
	return ref.URL, nil
}

// CleanupExpired sweeps temp videos and sessions older than the expiry. For
// completed encodes the sprite confirmation never claimed, the remote
// version prefix is deleted too, unless a project already references it.
// Returns (tempRemoved, sessionsRemoved).
func (s *Service) CleanupExpired(ctx context.Context) (int, int) {
	cutoff := s.now().UTC().Add(-stateExpiry)

	tempRemoved := 0
	for id, entry := range s.temp.Snapshot() {
		if entry.CreatedAt.After(cutoff) {
			continue
		}
		if !entry.Remote && entry.SourcePath != "" {
			if err := os.Remove(entry.SourcePath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove expired upload", "temp_id", id, "error", err)
			}
		}
		s.temp.Delete(id)
		tempRemoved++
	}

	sessionsRemoved := 0
	for id, session := range s.sessions.Snapshot() {
		if session.CreatedAt.After(cutoff) {
			continue
		}
		if session.Status == StatusComplete && !session.SpriteGenerated && session.HLSURL != "" {
			if session.HLSURL != s.savedHLS(session.Slug) {
				version := VersionFromHLSURL(session.HLSURL)
				if version != "" {
					if _, err := storage.DeletePrefix(ctx, s.client, HLSPrefix(session.Slug, version)); err != nil {
						s.logger.Warn("failed to delete orphaned hls version",
							"slug", session.Slug, "version", version, "error", err)
					} else {
						s.logger.Info("deleted orphaned hls version", "slug", session.Slug, "version", version)
					}
				}
			}
		}
		s.sessions.Delete(id)
		sessionsRemoved++
	}

	if tempRemoved > 0 || sessionsRemoved > 0 {
		s.logger.Info("expired media state removed", "temp_videos", tempRemoved, "sessions", sessionsRemoved)
	}
	return tempRemoved, sessionsRemoved
}
