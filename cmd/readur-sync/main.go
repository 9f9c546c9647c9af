// Command readur-sync is the composition root: it wires the Storage Backend
// (C1), Document Repository (C2), Loop Detector (C3), Circuit Breaker (C4),
// WebDAV Client Core (C5), Source Error Tracker (C6), Extraction Pipeline
// (C7), Fallback Strategy (C8), and Document Ingestion Service (C9) together
// and runs one full sync pass against a single WebDAV source.
//
// Configuration is entirely environment-driven (see config.EnvConfig),
// matching the rest of this repo's ambient config story rather than
// introducing a flags/config-file layer this binary doesn't need.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/readur/readur/common"
	"github.com/readur/readur/config"
	"github.com/readur/readur/extract"
	"github.com/readur/readur/extract/officexml"
	"github.com/readur/readur/fallback"
	"github.com/readur/readur/ingest"
	"github.com/readur/readur/loopdetect"
	"github.com/readur/readur/model"
	"github.com/readur/readur/repository"
	"github.com/readur/readur/sourceerrors"
	"github.com/readur/readur/storage"
	"github.com/readur/readur/webdavsync"
)

func main() {
	env := config.NewEnvConfig("READUR")
	logger := common.NewLogger(common.LoggerConfig{
		Level:      common.LogLevel(env.GetString("LOG_LEVEL", string(common.LogLevelInfo))),
		Format:     env.GetString("LOG_FORMAT", "text"),
		AddCaller:  env.GetBool("LOG_ADD_CALLER", false),
		TimeFormat: time.RFC3339,
	})

	if err := run(context.Background(), logger, env); err != nil {
		logger.WithError(err).Error("sync run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *logrus.Logger, env *config.EnvConfig) error {
	db, err := repository.NewPostgresDB(env.MustGetString("DATABASE_URL"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()
	repo := repository.NewPostgresRepository(db)

	if err := repo.ResetInterruptedState(ctx); err != nil {
		return fmt.Errorf("resetting interrupted state: %w", err)
	}

	store, err := buildStorage(ctx, env, logger)
	if err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}

	detector := loopdetect.New(loopProfile(env.GetString("LOOP_DETECTION_PROFILE", "production")))
	tracker := sourceerrors.New(repo, env.GetInt("SOURCE_ERROR_MAX_RETRIES", 10))

	webdavCfg := webdavConfig(env)
	client := webdavsync.New(webdavCfg, logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to webdav source: %w", err)
	}

	pool := extract.NewCPUPool(env.GetInt("EXTRACTION_WORKERS", 0))
	strategy := fallback.New(fallback.DefaultConfig(fallback.ModeXMLFirst), stubLibraryExtractor, xmlExtractor(), logger)
	ingestor := ingest.New(repo, store, logger)

	owner, err := uuid.Parse(env.MustGetString("SYNC_OWNER_ID"))
	if err != nil {
		return fmt.Errorf("parsing SYNC_OWNER_ID: %w", err)
	}

	s := &syncer{
		repo:         repo,
		store:        store,
		client:       client,
		watchFolders: webdavCfg.WatchFolders,
		detector:     detector,
		tracker:      tracker,
		strategy:     strategy,
		pool:         pool,
		ingestor:     ingestor,
		log:          common.NewContextLogger(logger, map[string]interface{}{"component": "readur-sync", "owner": owner}),
	}
	return s.run(ctx, owner)
}

func buildStorage(ctx context.Context, env *config.EnvConfig, logger *logrus.Logger) (storage.Storage, error) {
	var backend storage.Storage
	switch env.GetString("STORAGE_BACKEND", "local") {
	case "s3":
		s3, err := storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:          env.MustGetString("S3_BUCKET"),
			Region:          env.GetString("S3_REGION", "us-east-1"),
			Endpoint:        env.GetString("S3_ENDPOINT", ""),
			AccessKeyID:     env.GetString("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetString("S3_SECRET_ACCESS_KEY", ""),
			ForcePathStyle:  env.GetBool("S3_FORCE_PATH_STYLE", false),
		}, logger)
		if err != nil {
			return nil, err
		}
		backend = s3
	default:
		backend = storage.NewLocalBackend(env.GetString("LOCAL_STORAGE_ROOT", "./data"), logger)
	}

	if err := backend.Initialize(ctx); err != nil {
		return nil, err
	}
	return backend, nil
}

func webdavConfig(env *config.EnvConfig) webdavsync.Config {
	return webdavsync.Config{
		ServerURL:              env.MustGetString("WEBDAV_URL"),
		Username:               env.GetString("WEBDAV_USERNAME", ""),
		Password:               env.GetString("WEBDAV_PASSWORD", ""),
		WatchFolders:           env.GetStringSlice("WEBDAV_WATCH_FOLDERS", []string{"/"}),
		FileExtensions:         env.GetStringSlice("WEBDAV_FILE_EXTENSIONS", nil),
		Timeout:                env.GetDuration("WEBDAV_TIMEOUT", 30*time.Second),
		InsecureSkipVerify:     env.GetBool("WEBDAV_INSECURE_SKIP_VERIFY", false),
		MaxConcurrentScans:     env.GetInt("WEBDAV_MAX_CONCURRENT_SCANS", 4),
		MaxConcurrentDownloads: env.GetInt("WEBDAV_MAX_CONCURRENT_DOWNLOADS", 8),
	}
}

func loopProfile(name string) loopdetect.Config {
	switch name {
	case "development":
		return loopdetect.DevelopmentConfig()
	case "minimal":
		return loopdetect.MinimalConfig()
	default:
		return loopdetect.ProductionConfig()
	}
}

// stubLibraryExtractor always fails: no second office-document extraction
// library is wired in this port (see DESIGN.md). ModeXMLFirst only reaches
// this when the XML extractor itself fails, so every document still gets a
// real extraction attempt first.
func stubLibraryExtractor(ctx context.Context, data []byte, mimeType string) (fallback.Result, error) {
	return fallback.Result{}, fmt.Errorf("library extraction backend not configured for %s", mimeType)
}

// xmlExtractor adapts officexml.ExtractText to fallback.Extractor, giving
// each call a fresh ExtractionContext so zip-bomb accounting never leaks
// across documents.
func xmlExtractor() fallback.Extractor {
	return func(ctx context.Context, data []byte, mimeType string) (fallback.Result, error) {
		started := time.Now()
		ectx := officexml.NewExtractionContext(officexml.MaxAggregateDecompress)
		text, err := officexml.ExtractText(ctx, ectx, data, mimeType)
		if err != nil {
			return fallback.Result{}, err
		}
		return fallback.Result{
			Text:           text,
			Confidence:     1.0,
			WordCount:      len(strings.Fields(text)),
			ProcessingTime: time.Since(started),
			MethodName:     "xml",
		}, nil
	}
}

// isOfficeDocument reports whether mimeType is routed through the fallback
// strategy (C8) rather than extract.ExtractText's direct MIME dispatch (C7).
func isOfficeDocument(mimeType string) bool {
	switch mimeType {
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return true
	default:
		return false
	}
}

// syncer runs one discovery-download-ingest-extract pass per watch folder.
type syncer struct {
	repo         repository.DocumentRepository
	store        storage.Storage
	client       *webdavsync.Client
	watchFolders []string
	detector     *loopdetect.Detector
	tracker      *sourceerrors.Tracker
	strategy     *fallback.Strategy
	pool         *extract.CPUPool
	ingestor     *ingest.Service
	log          *common.ContextLogger
}

func (s *syncer) run(ctx context.Context, owner uuid.UUID) error {
	state := &model.SyncState{OwnerID: owner, Running: true}
	if err := s.repo.SaveSyncState(ctx, state); err != nil {
		return fmt.Errorf("saving initial sync state: %w", err)
	}

	var firstErr error
	for _, folder := range s.watchFolders {
		state.CurrentFolder = folder
		if err := s.syncFolder(ctx, owner, folder); err != nil {
			s.log.WithError(err).WithField("folder", folder).Warn("folder sync failed")
			state.ErrorList = append(state.ErrorList, err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	now := time.Now()
	state.Running = false
	state.LastSyncAt = &now
	if err := s.repo.SaveSyncState(ctx, state); err != nil {
		return fmt.Errorf("saving final sync state: %w", err)
	}
	return firstErr
}

func (s *syncer) syncFolder(ctx context.Context, owner uuid.UUID, folder string) error {
	access, err := s.detector.StartAccess(folder, "discover")
	if err != nil {
		return fmt.Errorf("loop detection rejected %q: %w", folder, err)
	}

	result, discErr := s.client.DiscoverRecursive(ctx, webdavsync.DiscoveryRequest{
		Owner:    owner,
		RootPath: folder,
		Tracker:  s.tracker,
		Lookup: func(path string) (webdavsync.DirectoryState, bool) {
			rec, err := s.repo.GetDirectoryTracking(ctx, owner, path)
			if err != nil || rec == nil {
				return webdavsync.DirectoryState{}, false
			}
			return webdavsync.DirectoryState{ETag: rec.ETag, LastScannedAt: rec.LastScannedAt}, true
		},
		FreshWindow: time.Hour,
	})

	var filesFound, subdirsFound *int
	if result != nil {
		n, d := len(result.Files), len(result.Directories)
		filesFound, subdirsFound = &n, &d
	}
	if cerr := s.detector.CompleteAccess(folder, access.AccessID, filesFound, subdirsFound, discErr); cerr != nil {
		s.log.WithError(cerr).WithField("folder", folder).Warn("loop detector flagged completion")
	}
	if discErr != nil {
		return fmt.Errorf("discovering %q: %w", folder, discErr)
	}

	if err := s.persistDirectories(ctx, owner, result); err != nil {
		s.log.WithError(err).Warn("failed to persist directory tracking")
	}

	for _, file := range result.Files {
		if file.IsDirectory {
			continue
		}
		if err := s.ingestFile(ctx, owner, file); err != nil {
			s.log.WithError(err).WithField("path", file.RelativePath).Warn("failed to ingest file")
		}
	}
	return nil
}

func (s *syncer) persistDirectories(ctx context.Context, owner uuid.UUID, result *webdavsync.DiscoveryResult) error {
	records := make([]model.DirectoryTrackingRecord, 0, len(result.Directories))
	now := time.Now()
	for path, etag := range result.Directories {
		records = append(records, model.DirectoryTrackingRecord{
			OwnerID:       owner,
			DirectoryPath: path,
			ETag:          etag,
			LastScannedAt: now,
		})
	}
	return s.repo.UpsertDirectoriesAndDeleteMissing(ctx, owner, records)
}

func (s *syncer) ingestFile(ctx context.Context, owner uuid.UUID, file model.FileIngestionInfo) error {
	download, err := s.client.DownloadWithMimeDetection(ctx, file.RelativePath, file.ServerMimeType)
	if err != nil {
		_ = s.tracker.TrackError(ctx, owner, model.SourceKindWebDAV, nil, file.RelativePath, err, 0)
		return fmt.Errorf("downloading %q: %w", file.RelativePath, err)
	}

	name := filenameOf(file.RelativePath)
	lastModified := file.LastModified
	sourcePath := file.RelativePath
	result, err := s.ingestor.Ingest(ctx, ingest.Request{
		Filename:            name,
		OriginalFilename:    name,
		FileData:            download.Data,
		MimeType:            download.DetectedMimeType,
		OwnerID:             owner,
		DeduplicationPolicy: model.PolicyTrackAsDuplicate,
		AutoRotateImages:    true,
		SourceType:          common.Ptr("webdav"),
		SourcePath:          &sourcePath,
		OriginalModifiedAt:  &lastModified,
		FileOwner:           file.Owner,
		FileGroup:           file.Group,
		SourceMetadata:      file.SourceMetadata,
	})
	if err != nil {
		_ = s.tracker.TrackError(ctx, owner, model.SourceKindWebDAV, nil, file.RelativePath, err, 0)
		return err
	}
	if err := s.tracker.MarkSuccess(ctx, owner, model.SourceKindWebDAV, nil, file.RelativePath); err != nil {
		s.log.WithError(err).Warn("failed to mark source error resolved")
	}

	if result.Outcome != ingest.OutcomeCreated {
		return nil
	}
	if err := s.extractAndStore(ctx, result.Document); err != nil {
		s.log.WithError(err).WithField("document_id", result.Document.ID).Warn("extraction failed")
	}
	return nil
}

// extractAndStore re-reads the just-stored document and runs C7/C8's
// extraction pipeline against it, persisting the result through
// DocumentRepository.UpdateOCR.
func (s *syncer) extractAndStore(ctx context.Context, doc *model.Document) error {
	rc, err := s.store.Retrieve(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("retrieving stored document %s: %w", doc.ID, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("reading stored document %s: %w", doc.ID, err)
	}

	started := time.Now()
	var text string
	var confidence float64
	var wordCount int

	if isOfficeDocument(doc.MimeType) {
		r, extractErr := s.strategy.Extract(ctx, data, doc.MimeType)
		if extractErr != nil {
			_ = s.repo.UpdateOCR(ctx, doc.ID, "", 0, 0, time.Since(started), model.OCRStatusFailed)
			return fmt.Errorf("extracting document %s: %w", doc.ID, extractErr)
		}
		text, confidence, wordCount = r.Text, r.Confidence, r.WordCount
	} else {
		r, extractErr := extract.ExtractText(ctx, s.pool, data, doc.MimeType, extract.Settings{})
		if extractErr != nil {
			_ = s.repo.UpdateOCR(ctx, doc.ID, "", 0, 0, time.Since(started), model.OCRStatusFailed)
			return fmt.Errorf("extracting document %s: %w", doc.ID, extractErr)
		}
		text, confidence, wordCount = r.Text, r.Confidence, r.WordCount
	}

	return s.repo.UpdateOCR(ctx, doc.ID, text, confidence, wordCount, time.Since(started), model.OCRStatusCompleted)
}

func filenameOf(relativePath string) string {
	idx := strings.LastIndex(relativePath, "/")
	if idx < 0 {
		return relativePath
	}
	return relativePath[idx+1:]
}
