package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"staysync/internal/adapters/observability"
	redisad "staysync/internal/adapters/redis"
	"staysync/internal/app"
	"staysync/internal/domain"
	"staysync/internal/shared"
	mysqlrepo "staysync/internal/storage/mysql"
)

// rowJSON is one already-normalized candidate row as emitted by the
// spreadsheet-parsing layer (column mapping and date coercion happen there,
// not here).
type rowJSON struct {
	Row            int      `json:"row"`
	Property       string   `json:"property"`
	ExternalCode   string   `json:"external_code"`
	GuestName      string   `json:"guest_name"`
	Source         string   `json:"source"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	ExternalStatus string   `json:"external_status"`
	GuestEmail     *string  `json:"guest_email,omitempty"`
	GuestPhone     *string  `json:"guest_phone,omitempty"`
	Earnings       *float64 `json:"earnings,omitempty"`
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func main() {
	var (
		file    = flag.String("file", "", "path to candidate rows (JSON lines)")
		batchID = flag.String("batch", "", "batch id (generated when empty)")
	)
	flag.Parse()

	ctx := context.Background()
	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv)

	if *file == "" {
		log.Fatal().Msg("-file is required")
	}
	if *batchID == "" {
		*batchID = uuid.NewString()
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	alloc := app.NewCodeAllocator(repo, cfg.CodeSuffixCap)
	limiter := rate.NewLimiter(rate.Limit(cfg.RowsPerSecond), cfg.RowsPerSecond)
	svc := app.NewImportService(repo, repo, alloc, cache, limiter)

	byProperty, total, err := readRows(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("read rows failed")
	}
	log.Info().
		Str("batch", *batchID).
		Int("rows", total).
		Int("properties", len(byProperty)).
		Msg("import starting")

	// Properties run concurrently; rows within one property stay in file
	// order because a row may depend on a booking created by the row before
	// it.
	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup
	var mu sync.Mutex
	totals := app.ImportSummary{BatchID: *batchID}

	for name, rows := range byProperty {
		name, rows := name, rows

		if err := sem.Acquire(ctx, 1); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			prop, err := repo.FindPropertyByName(ctx, name)
			if err != nil {
				log.Warn().Str("property", name).Err(err).Msg("unknown property, rows skipped")
				mu.Lock()
				for _, r := range rows {
					totals.Errors = append(totals.Errors, domain.ResolutionError{
						Row: r.Row, Message: fmt.Sprintf("property %q: %v", name, err),
					})
				}
				mu.Unlock()
				return
			}

			sum := svc.Run(ctx, *batchID, *prop, rows)
			log.Info().
				Str("property", name).
				Int("created", sum.Created).
				Int("unchanged", sum.Unchanged).
				Int("auto_resolved", sum.AutoResolved).
				Int("conflicts", sum.Conflicts).
				Int("errors", len(sum.Errors)).
				Msg("property import done")

			mu.Lock()
			totals.Rows += sum.Rows
			totals.Created += sum.Created
			totals.Unchanged += sum.Unchanged
			totals.AutoResolved += sum.AutoResolved
			totals.Conflicts += sum.Conflicts
			totals.Errors = append(totals.Errors, sum.Errors...)
			mu.Unlock()
		}()
	}

	wg.Wait()
	log.Info().
		Str("batch", *batchID).
		Int("rows", totals.Rows).
		Int("created", totals.Created).
		Int("unchanged", totals.Unchanged).
		Int("auto_resolved", totals.AutoResolved).
		Int("conflicts", totals.Conflicts).
		Int("errors", len(totals.Errors)).
		Msg("import completed")
}

// readRows groups candidate rows per property, preserving file order within
// each group.
func readRows(path string) (map[string][]app.ImportRow, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	byProperty := make(map[string][]app.ImportRow)
	total := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0

	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rj rowJSON
		if err := json.Unmarshal(raw, &rj); err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", line, err)
		}
		start, err := parseDate(rj.StartDate)
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: start_date: %w", line, err)
		}
		end, err := parseDate(rj.EndDate)
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: end_date: %w", line, err)
		}

		rowNum := rj.Row
		if rowNum == 0 {
			rowNum = line
		}
		byProperty[rj.Property] = append(byProperty[rj.Property], app.ImportRow{
			Row: rowNum,
			Candidate: domain.CandidateBooking{
				ExternalCode:   rj.ExternalCode,
				GuestName:      rj.GuestName,
				Source:         rj.Source,
				PropertyName:   rj.Property,
				StartDate:      start,
				EndDate:        end,
				ExternalStatus: rj.ExternalStatus,
				GuestEmail:     rj.GuestEmail,
				GuestPhone:     rj.GuestPhone,
				Earnings:       rj.Earnings,
			},
		})
		total++
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return byProperty, total, nil
}
