package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// SettledBets lists bets for export.
type SettledBets interface {
	List(ctx context.Context, filter domain.BetFilter) ([]domain.Bet, error)
}

// Participations lists the ledger rows of one bet.
type Participations interface {
	ListParticipations(ctx context.Context, betID uint64) ([]domain.Participation, error)
}

// ArchivedBet is one JSONL line of a settlement archive.
type ArchivedBet struct {
	Bet            domain.Bet             `json:"bet"`
	Participations []domain.Participation `json:"participations"`
}

// ArchiverConfig tunes batch sizes.
type ArchiverConfig struct {
	PageSize      int
	MultipartSize int64
}

// Archiver implements domain.Archiver. Each run rewrites one file per
// settlement month, archive/bets/YYYY-MM.jsonl, holding every bet settled in
// that month before the cutoff. Primary records are never deleted.
type Archiver struct {
	bets   SettledBets
	parts  Participations
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	cfg    ArchiverConfig
	logger *slog.Logger
}

// NewArchiver creates an Archiver. reader may be nil to skip the
// post-upload check.
func NewArchiver(
	bets SettledBets,
	parts Participations,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *Archiver {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.MultipartSize <= 0 {
		cfg.MultipartSize = 4 * MinPartSize
	}
	return &Archiver{
		bets:   bets,
		parts:  parts,
		writer: writer,
		reader: reader,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettled exports every bet settled before the cutoff and returns
// the number of bets written.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	months := make(map[string][]ArchivedBet)
	var count int64

	for offset := 0; ; offset += a.cfg.PageSize {
		bets, err := a.bets.List(ctx, domain.BetFilter{
			SettledBefore: &before,
			Limit:         a.cfg.PageSize,
			Offset:        offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive list bets: %w", err)
		}
		for _, bet := range bets {
			if !bet.State.Terminal() || bet.SettledAt == nil {
				continue
			}
			parts, err := a.parts.ListParticipations(ctx, bet.ID)
			if err != nil {
				return 0, fmt.Errorf("s3blob: archive participations %d: %w", bet.ID, err)
			}
			month := bet.SettledAt.UTC().Format("2006-01")
			months[month] = append(months[month], ArchivedBet{Bet: bet, Participations: parts})
			count++
		}
		if len(bets) < a.cfg.PageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(months))
	for m := range months {
		keys = append(keys, m)
	}
	sort.Strings(keys)

	paths := make([]string, 0, len(keys))
	for _, month := range keys {
		path := archivePath(month)
		if err := a.upload(ctx, path, months[month]); err != nil {
			return 0, err
		}
		paths = append(paths, path)
		a.logger.InfoContext(ctx, "archive written",
			slog.String("path", path),
			slog.Int("bets", len(months[month])),
		)
	}

	if err := a.audit.Log(ctx, "archive.bets", map[string]any{
		"paths":  paths,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

func (a *Archiver) upload(ctx context.Context, path string, records []ArchivedBet) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal %s: %w", path, err)
	}

	if int64(len(buf)) > a.cfg.MultipartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.cfg.MultipartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if a.reader == nil {
		return nil
	}
	info, err := a.reader.Stat(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive verify: %w", err)
	}
	if info.Size != int64(len(buf)) {
		return fmt.Errorf("s3blob: archive verify %s: size %d, wrote %d", path, info.Size, len(buf))
	}
	return nil
}

// archivePath is the object key for one settlement month.
func archivePath(month string) string {
	return "archive/bets/" + month + ".jsonl"
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
