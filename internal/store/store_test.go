package store

import (
	"path/filepath"
	"testing"

	"pricewatch/internal/proxypool"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RunsMigrationsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if !s2.tableExists("categories") {
		t.Fatal("expected categories table to exist after reopen")
	}
}

func TestCreateAndListCategories(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateCategory(Category{
		Store: "walmart", Name: "Electronics", URL: "https://walmart.com/electronics",
		Enabled: true, Priority: 20, BaseScanIntervalMinutes: 0,
		KeywordInclude: []string{"tv", "laptop"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	cats, err := s.ListEnabledCategories()
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 1 {
		t.Fatalf("len(cats) = %d, want 1", len(cats))
	}
	if cats[0].Priority != 10 {
		t.Fatalf("priority = %d, want clamped to 10", cats[0].Priority)
	}
	if cats[0].BaseScanIntervalMinutes != 1 {
		t.Fatalf("interval = %d, want clamped to 1", cats[0].BaseScanIntervalMinutes)
	}
	if len(cats[0].KeywordInclude) != 2 {
		t.Fatalf("KeywordInclude = %+v", cats[0].KeywordInclude)
	}
}

func TestApplyScanUpdates_BatchesAndDisables(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.CreateCategory(Category{Store: "walmart", Name: "Toys", URL: "https://walmart.com/toys", Enabled: true, Priority: 5})

	err := s.ApplyScanUpdates([]ScanUpdate{
		{CategoryID: id, ProductsFound: 10, DealsFound: 2, Disable: true, LastError: "HTTP 404"},
	})
	if err != nil {
		t.Fatal(err)
	}

	cats, err := s.ListEnabledCategories()
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 0 {
		t.Fatalf("expected category disabled after 404, got %+v", cats)
	}
}

func TestProxyRoundtrip(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateProxy(proxypool.Proxy{Host: "1.2.3.4", Port: 8080, Type: proxypool.TypeDatacenter, Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	proxies, err := s.ListProxies()
	if err != nil {
		t.Fatal(err)
	}
	if len(proxies) != 1 || proxies[0].ID != id {
		t.Fatalf("proxies = %+v", proxies)
	}

	proxies[0].SuccessCount = 5
	proxies[0].Consecutive403s = 2
	if err := s.PersistProxyCounters(proxies); err != nil {
		t.Fatal(err)
	}
	after, err := s.ListProxies()
	if err != nil {
		t.Fatal(err)
	}
	if after[0].SuccessCount != 5 || after[0].Consecutive403s != 2 {
		t.Fatalf("after = %+v", after)
	}
}

func TestScanJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateScanJob("job-1", ScanJobScheduled, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionScanJob("job-1", ScanJobRunning); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordScanJobProgress("job-1", 10, 2, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordScanJobProgress("job-1", 5, 0, "config error: bad url"); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionScanJob("job-1", ScanJobCompleted); err != nil {
		t.Fatal(err)
	}

	job, err := s.GetScanJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != ScanJobCompleted {
		t.Fatalf("status = %v, want completed", job.Status)
	}
	if job.CompletedCategories != 2 {
		t.Fatalf("completed categories = %d, want 2", job.CompletedCategories)
	}
	if job.TotalProducts != 15 || job.TotalDeals != 2 {
		t.Fatalf("totals = %d/%d, want 15/2", job.TotalProducts, job.TotalDeals)
	}
	if len(job.Errors) != 1 {
		t.Fatalf("errors = %+v", job.Errors)
	}
}

func TestProductExclusions(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateProductExclusion(ProductExclusion{Kind: ExclusionSKU, Pattern: "B0BAD", Store: "amazon_us"}); err != nil {
		t.Fatal(err)
	}
	rules, err := s.ListProductExclusions()
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Pattern != "B0BAD" {
		t.Fatalf("rules = %+v", rules)
	}
}
