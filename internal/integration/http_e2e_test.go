//go:build integration || !unit

package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	server "staysync/internal/adapters/http_server"
	redisad "staysync/internal/adapters/redis"
	"staysync/internal/app"
	"staysync/internal/domain"
	mysqlrepo "staysync/internal/storage/mysql"
)

// ---------- helpers ----------
func mustEnv(t *testing.T, k string) string {
	t.Helper()
	v := os.Getenv(k)
	if v == "" {
		t.Fatalf("%s not set; export it (e.g. MIGRATIONS_DIR=/path/to/sql)", k)
	}
	return v
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := mustEnv(t, "MIGRATIONS_DIR")

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("MIGRATIONS_DIR=%s is not a directory or missing", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

// ---------- the test ----------
func TestHTTP_EndToEnd_ConflictReviewFlow(t *testing.T) {
	// Start isolated MySQL container
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=staysync",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/staysync?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC", hostPort)

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)

	mr := miniredis.RunT(t)
	cache := redisad.New(mr.Addr(), "", 0)

	repo := mysqlrepo.New(db)
	ctx := context.Background()

	// Seed: one property, one stored booking with a mojibake guest name
	if _, err := db.Exec(`INSERT INTO properties (id, name) VALUES (1, 'Sunset Villa')`); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	prop := domain.Property{ID: 1, Name: "Sunset Villa"}
	if _, err := repo.CreateBooking(ctx, &domain.Booking{
		PropertyID:     1,
		Source:         "Airbnb",
		ExternalCode:   "HMZE8BT5AC",
		GuestName:      "Kathrin MĂ¼ller",
		StartDate:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC),
		ExternalStatus: "Confirmed",
		Status:         domain.StatusConfirmed,
	}, nil); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	// Import the clean spreadsheet row; it must queue for review
	alloc := app.NewCodeAllocator(repo, 0)
	svc := app.NewImportService(repo, repo, alloc, cache, nil)
	batchID := "e2e-batch"
	sum := svc.Run(ctx, batchID, prop, []app.ImportRow{{
		Row: 2,
		Candidate: domain.CandidateBooking{
			ExternalCode:   "HMZE8BT5AC",
			GuestName:      "Kathrin Muller",
			Source:         "airbnb",
			PropertyName:   "Sunset Villa",
			StartDate:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			EndDate:        time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC),
			ExternalStatus: "Confirmed",
		},
	}})
	if sum.Conflicts != 1 || len(sum.Errors) != 0 {
		t.Fatalf("import: %+v", sum)
	}

	// Spin up the real router with real handlers
	srv := server.New()
	srv.MountHandlers(&server.Handlers{
		Q: app.NewQueryService(repo, cache, time.Minute),
		R: app.NewResolver(repo, repo, alloc, cache),
	})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	// List the queue
	res, err := http.Get(fmt.Sprintf("%s/v1/batches/%s/conflicts", ts.URL, batchID))
	if err != nil {
		t.Fatalf("GET conflicts: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET conflicts status %d", res.StatusCode)
	}
	etag := res.Header.Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag header")
	}

	var listBody struct {
		BatchID   string `json:"batch_id"`
		Conflicts []struct {
			Index    int            `json:"index"`
			Row      int            `json:"row"`
			Resolved bool           `json:"resolved"`
			Conflict map[string]any `json:"conflict"`
		} `json:"conflicts"`
	}
	if err := json.NewDecoder(res.Body).Decode(&listBody); err != nil {
		t.Fatalf("decode conflicts: %v", err)
	}
	if len(listBody.Conflicts) != 1 || listBody.Conflicts[0].Resolved {
		t.Fatalf("unexpected queue: %+v", listBody)
	}
	guest, _ := listBody.Conflicts[0].Conflict["changes_summary"].(map[string]any)["guest"].(map[string]any)
	if guest["change_type"] != "encoding_correction" {
		t.Fatalf("unexpected guest analysis: %+v", guest)
	}

	// Conditional re-read: unchanged queue yields 304
	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/v1/batches/%s/conflicts", ts.URL, batchID), nil)
	req.Header.Set("If-None-Match", etag)
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional GET: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional GET status %d", res2.StatusCode)
	}

	// Accept the guest-name fix
	payload := `{"resolutions":[{"conflict_index":0,"action":"update_existing","apply_changes":["guest_name"]}]}`
	req, _ = http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/v1/batches/%s/resolutions", ts.URL, batchID),
		bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reviewed-By", "mia@example.com")
	res3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST resolutions: %v", err)
	}
	defer res3.Body.Close()
	if res3.StatusCode != http.StatusOK {
		t.Fatalf("POST resolutions status %d", res3.StatusCode)
	}
	var outcome struct {
		Updated int              `json:"updated"`
		Created int              `json:"created"`
		Skipped int              `json:"skipped"`
		Errors  []map[string]any `json:"errors"`
	}
	if err := json.NewDecoder(res3.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Updated != 1 || len(outcome.Errors) != 0 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	// The booking carries the fix and the audit trail explains it
	fixed, err := repo.FindByScope(ctx, 1, "Airbnb", "HMZE8BT5AC")
	if err != nil {
		t.Fatalf("FindByScope after resolve: %v", err)
	}
	if fixed.GuestName != "Kathrin Muller" {
		t.Fatalf("guest name not fixed: %q", fixed.GuestName)
	}
	var classification, actor string
	if err := db.QueryRow(
		`SELECT classification, actor FROM booking_audit WHERE booking_id = ? AND field = 'guest_name'`,
		fixed.ID).Scan(&classification, &actor); err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if classification != "encoding_correction" || actor != "mia@example.com" {
		t.Fatalf("audit: %s by %s", classification, actor)
	}

	// The queue now shows the conflict as resolved
	res4, err := http.Get(fmt.Sprintf("%s/v1/batches/%s/conflicts", ts.URL, batchID))
	if err != nil {
		t.Fatalf("GET conflicts after resolve: %v", err)
	}
	defer res4.Body.Close()
	if err := json.NewDecoder(res4.Body).Decode(&listBody); err != nil {
		t.Fatalf("decode conflicts after resolve: %v", err)
	}
	if len(listBody.Conflicts) != 1 || !listBody.Conflicts[0].Resolved {
		t.Fatalf("conflict not marked resolved: %+v", listBody)
	}
}
