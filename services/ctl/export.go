// Package ctl implements the autologctl maintenance commands: migrations,
// run-history queries, wrapped command execution, and signed run archives.
package ctl

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"autolog/pkg/db"
	gos3 "autolog/pkg/s3"
)

const (
	manifestFileName = "manifest.yaml"
	runsFileName     = "runs.ndjson"
)

// ExportConfig configures run archive creation.
type ExportConfig struct {
	DSN          string
	Schema       string
	Table        string
	AutomationID int64
	Since        time.Time
	Output       string
	Signer       *Signer
	S3           *gos3.Client
	S3Bucket     string
	Now          func() time.Time
	Stdout       io.Writer
}

// exportRecord is one run_log row as serialized into the archive.
type exportRecord struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	AutomationID int64           `db:"automation_id" json:"automation_id"`
	StartedAt    time.Time       `db:"started_at" json:"started_at"`
	EndedAt      time.Time       `db:"ended_at" json:"ended_at"`
	DurationMS   int64           `db:"duration_ms" json:"duration_ms"`
	Origin       string          `db:"origin" json:"origin"`
	Context      json.RawMessage `db:"context" json:"context"`
	Status       string          `db:"status" json:"status"`
	Outputs      json.RawMessage `db:"outputs" json:"outputs"`
	Flags        json.RawMessage `db:"flags" json:"flags"`
}

// Export queries run history and writes it as a signed tar.zst archive
// containing a YAML manifest and an NDJSON record file, optionally
// offloading the result to S3.
func Export(ctx context.Context, cfg ExportConfig) (*Manifest, error) {
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	pool, err := db.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	rows, err := queryExportRows(ctx, pool, cfg)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("no runs matched the export filters")
	}

	ndjson, err := encodeRows(rows)
	if err != nil {
		return nil, err
	}

	manifest, err := buildManifest(rows, ndjson, cfg.Signer, cfg.Now)
	if err != nil {
		return nil, err
	}

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeArchive(cfg.Output, manifestBytes, ndjson); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote archive %s (%d runs)\n", cfg.Output, len(rows))

	if cfg.S3 != nil {
		if err := uploadArchive(ctx, cfg); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

func queryExportRows(ctx context.Context, pool *pgxpool.Pool, cfg ExportConfig) ([]exportRecord, error) {
	conditions := []string{}
	args := []any{}

	if cfg.AutomationID != 0 {
		args = append(args, cfg.AutomationID)
		conditions = append(conditions, fmt.Sprintf("automation_id = $%d", len(args)))
	}
	if !cfg.Since.IsZero() {
		args = append(args, cfg.Since)
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
        SELECT id, automation_id, started_at, ended_at, duration_ms, origin, context, status, outputs, flags
        FROM %s %s
        ORDER BY started_at
    `, destinationIdent(cfg.Schema, cfg.Table), where)

	var rows []exportRecord
	if err := db.Select(ctx, pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return rows, nil
}

// destinationIdent quotes a schema-qualified table name, defaulting to the
// standard run_log destination.
func destinationIdent(schema, table string) string {
	if schema == "" {
		schema = "automations"
	}
	if table == "" {
		table = "run_log"
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func encodeRows(rows []exportRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return nil, fmt.Errorf("encode run %s: %w", rows[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}

func buildManifest(rows []exportRecord, ndjson []byte, signer *Signer, now func() time.Time) (*Manifest, error) {
	digest := sha256.Sum256(ndjson)

	manifest := &Manifest{
		Version:          "1",
		CreatedAt:        now().UTC().Truncate(time.Second),
		Signer:           signer.Recipient(),
		SigningPublicKey: signer.PublicKeyBase64(),
		Records:          len(rows),
		RunsSHA256:       hex.EncodeToString(digest[:]),
		EarliestStart:    rows[0].StartedAt.UTC(),
		LatestStart:      rows[len(rows)-1].StartedAt.UTC(),
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	return manifest, nil
}

func writeArchive(output string, manifest, ndjson []byte) error {
	dir := filepath.Dir(output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	now := time.Now().UTC()
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{manifestFileName, manifest},
		{runsFileName, ndjson},
	} {
		header := &tar.Header{
			Name:     entry.name,
			Mode:     0o644,
			Size:     int64(len(entry.data)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write %s header: %w", entry.name, err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			return fmt.Errorf("write %s body: %w", entry.name, err)
		}
	}

	return nil
}

// ReadArchive opens an exported archive and returns its manifest and NDJSON
// record payload.
func ReadArchive(path string) (*Manifest, []byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var (
		manifest *Manifest
		ndjson   []byte
	)

	tr := tar.NewReader(decoder)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read archive: %w", err)
		}

		switch header.Name {
		case manifestFileName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read manifest: %w", err)
			}
			var m Manifest
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil, nil, fmt.Errorf("parse manifest: %w", err)
			}
			manifest = &m
		case runsFileName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read runs: %w", err)
			}
			ndjson = data
		}
	}

	if manifest == nil {
		return nil, nil, errors.New("archive has no manifest")
	}
	if ndjson == nil {
		return nil, nil, errors.New("archive has no run records")
	}

	return manifest, ndjson, nil
}

// VerifyConfig configures archive verification.
type VerifyConfig struct {
	ArchivePath string
	Signer      *Signer
	Stdout      io.Writer
}

// Verify checks an exported archive's record digest and manifest signature.
func Verify(cfg VerifyConfig) error {
	if cfg.ArchivePath == "" {
		return errors.New("archive path is required")
	}
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	manifest, ndjson, err := ReadArchive(cfg.ArchivePath)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(ndjson)
	if got := hex.EncodeToString(digest[:]); got != manifest.RunsSHA256 {
		return fmt.Errorf("record digest mismatch: manifest %s, archive %s", manifest.RunsSHA256, got)
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := cfg.Signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return err
	}

	fmt.Fprintf(cfg.Stdout, "archive %s verified (%d runs)\n", cfg.ArchivePath, manifest.Records)
	return nil
}

func uploadArchive(ctx context.Context, cfg ExportConfig) error {
	if cfg.S3Bucket == "" {
		return errors.New("s3 bucket is required for upload")
	}

	file, err := os.Open(cfg.Output)
	if err != nil {
		return fmt.Errorf("open archive for upload: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return fmt.Errorf("hash archive: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind archive: %w", err)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	key := "run-log-exports/" + filepath.Base(cfg.Output)

	if err := cfg.S3.PutObject(ctx, cfg.S3Bucket, key, file, size, digest); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	fmt.Fprintf(cfg.Stdout, "uploaded s3://%s/%s\n", cfg.S3Bucket, key)
	return nil
}
