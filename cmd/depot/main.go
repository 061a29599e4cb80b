package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"depot/internal/auth"
	"depot/internal/depot"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context) error {

	listenHTTP := flag.String("listen", "9000", "HTTP listen address")
	dataDir := flag.String("data-dir", "./data", "directory to store chunk and upload data")
	storeName := flag.String("store-name", "depot", "store name embedded in /data/ URLs")
	backend := flag.String("backend", "chunks", "storage backend: chunks, directory, or s3")
	chunkSize := flag.Int("chunk-size", depot.DefaultChunkSize, "chunk size in bytes")
	maxPartSize := flag.Int64("max-part-size", depot.DefaultMaxPartSize, "maximum part size in bytes")
	maxFileSize := flag.Int64("max-file-size", depot.DefaultMaxFileSize, "maximum file size in bytes")
	uploadTTL := flag.Duration("upload-ttl", depot.DefaultUploadExpireIn, "how long upload sessions stay usable")
	reapEvery := flag.Duration("reap-interval", time.Hour, "how often expired uploads are reclaimed")
	accessKey := flag.String("access-key", "depotadmin", "access key for mutating routes")
	secretKey := flag.String("secret-key", "depotadmin", "secret key for mutating routes")
	s3Endpoint := flag.String("s3-endpoint", "", "S3 endpoint host for the s3 backend")
	s3Bucket := flag.String("s3-bucket", "", "S3 bucket for the s3 backend")
	s3AccessKey := flag.String("s3-access-key", "", "S3 access key for the s3 backend")
	s3SecretKey := flag.String("s3-secret-key", "", "S3 secret key for the s3 backend")
	s3Secure := flag.Bool("s3-secure", true, "use TLS when talking to the s3 backend")

	flag.Parse()

	listenHTTPS := 8443
	serverCrtFile := ""
	serverKeyFile := ""

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := depot.Config{
		Name:           *storeName,
		DataDir:        absDataDir,
		ChunkSize:      *chunkSize,
		MaxPartSize:    *maxPartSize,
		MaxFileSize:    *maxFileSize,
		UploadExpireIn: *uploadTTL,
	}

	var store depot.FileStore
	switch *backend {
	case "chunks":
		chunkStore, err := depot.NewChunkStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to create chunk store: %w", err)
		}
		store = chunkStore
	case "directory":
		dirStore, err := depot.NewDirectoryStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to create directory store: %w", err)
		}
		store = dirStore
	case "s3":
		if *s3Endpoint == "" || *s3Bucket == "" {
			return errors.New("the s3 backend requires -s3-endpoint and -s3-bucket")
		}
		core, err := minio.NewCore(*s3Endpoint, &minio.Options{
			Creds:        credentials.NewStaticV4(*s3AccessKey, *s3SecretKey, ""),
			Secure:       *s3Secure,
			BucketLookup: minio.BucketLookupPath,
		})
		if err != nil {
			return fmt.Errorf("failed to create s3 client: %w", err)
		}
		s3Store, err := depot.NewS3Store(core, *s3Bucket, cfg)
		if err != nil {
			return fmt.Errorf("failed to create s3 store: %w", err)
		}
		store = s3Store
	default:
		return fmt.Errorf("unknown backend %q", *backend)
	}

	defer store.Close()

	server := depot.NewHTTPServer(*storeName, store)
	engine := auth.NewBasicAuthEngine(*accessKey, *secretKey)

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler(engine))
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", *listenHTTP),
		Handler:           mux,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			ClientAuth: tls.RequestClientCert,
			MinVersion: tls.VersionTLS12,
		},
		Addr:              fmt.Sprintf(":%d", listenHTTPS),
		Handler:           mux,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return httpsServer.Shutdown(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(ctx)
	})

	if sweeper, ok := store.(depot.Sweeper); ok {
		reaper := depot.NewReaper(sweeper, *reapEvery)
		eg.Go(func() error {
			err := reaper.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	eg.Go(func() error {
		if serverCrtFile == "" || serverKeyFile == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting Depot HTTPS server", "port", listenHTTPS)
		err := httpsServer.ListenAndServeTLS(serverCrtFile, serverKeyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting Depot HTTP server", "port", *listenHTTP)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Depot Started",
		"backend", *backend,
		"chunk_size", humanize.IBytes(uint64(cfg.ChunkSize)),
		"max_part_size", humanize.IBytes(uint64(cfg.MaxPartSize)),
		"max_file_size", humanize.IBytes(uint64(cfg.MaxFileSize)),
	)
	return eg.Wait()

}

func main() {
	if err := Run(context.Background()); err != nil {
		slog.Error("Depot exited with error", "error", err)
	}
}
